package ws

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"syncstart/internal/services/room"
)

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Error("ws.encode", zap.Error(err))
		return nil
	}
	return b
}

// broadcast sends v to every client in r, master included.
func (s *WsServer) broadcast(r *room.Room, v any) room.PublishResult {
	res := r.Broadcast(encode(v))
	if len(res.Dropped) > 0 {
		zap.L().Debug("ws.broadcast_dropped",
			zap.String("room_id", r.ID),
			zap.Strings("client_ids", res.Dropped))
	}
	return res
}

// relayToMaster sends v to r's master. A missing master is not an error.
func (s *WsServer) relayToMaster(r *room.Room, v any) bool {
	m, ok := r.Master()
	if !ok {
		return false
	}
	if err := m.Send(encode(v)); err != nil {
		zap.L().Debug("ws.relay_dropped", zap.String("room_id", r.ID), zap.Error(err))
		return false
	}
	return true
}

func (c *ConnContext) reply(v any) {
	if err := c.peer.Send(encode(v)); err != nil {
		zap.L().Debug("ws.reply_dropped", zap.String("conn_id", c.ID), zap.Error(err))
	}
}

func (c *ConnContext) replyError(err error) {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		zap.L().Error("ws.handler", zap.String("conn_id", c.ID), zap.Error(err))
		pe = protoErr(CodeInternal, "internal error")
	}
	c.reply(ErrorReply{Type: TypeError, Code: pe.Code, Message: pe.Message})
}
