package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"syncstart/internal/events"
	"syncstart/internal/roomid"
	"syncstart/internal/services/room"
)

func (s *WsServer) registerHandlers() {
	// 🔹 binding messages -----------------------------------------------------
	Register(s.router, TypeCreateRoom, s.createRoom, requireUnbound)
	Register(s.router, TypeJoinRoom, s.joinRoom, requireUnbound)

	// 🔹 room messages --------------------------------------------------------
	Register(s.router, TypeSyncPing, s.syncPing, requireRoom)
	Register(s.router, TypeStartAt, s.startAt, requireRoom, requireMaster)
	Register(s.router, TypeAckStart, s.ackStart, requireRoom)
}

// ---------------------------------------------------------------------------
//  Guards
// ---------------------------------------------------------------------------

func requireUnbound(c *ConnContext) error {
	if c.Session.Bound() {
		return protoErr(CodeAlreadyInRoom, "connection is already bound to room "+c.Session.RoomID)
	}
	return nil
}

// requireRoom passes only while the session's room is still registered.
func requireRoom(c *ConnContext) error {
	if !c.Session.Bound() {
		return protoErr(CodeNotInRoom, "join or create a room first")
	}
	if !c.Server.rooms.IsCurrent(c.Session.Room()) {
		return protoErr(CodeRoomGone, "room "+c.Session.RoomID+" no longer exists")
	}
	return nil
}

func requireMaster(c *ConnContext) error {
	if !c.Session.IsMaster {
		return protoErr(CodeNotMaster, "only the room master may do this")
	}
	return nil
}

// ---------------------------------------------------------------------------
//  Handlers
// ---------------------------------------------------------------------------

func (s *WsServer) createRoom(_ context.Context, c *ConnContext, req CreateRoomRequest) (RoomCreated, error) {
	masterID := req.MasterID
	if masterID == "" {
		masterID = uuid.NewString()
	}

	r, err := s.rooms.CreateRoom(masterID, c.peer)
	if err != nil {
		if errors.Is(err, roomid.ErrExhausted) {
			return RoomCreated{}, protoErr(CodeRoomIDExhausted, "could not allocate a room id, try again")
		}
		return RoomCreated{}, fmt.Errorf("create room: %w", err)
	}
	if err := c.Session.bind(r, masterID, true); err != nil {
		return RoomCreated{}, err
	}

	s.publish(r, events.Event{Kind: events.RoomCreated, ClientID: masterID, Clients: 1})
	return RoomCreated{
		Type:       TypeRoomCreated,
		RoomID:     r.ID,
		MasterID:   masterID,
		ServerTime: c.Session.stamp(s.now()),
	}, nil
}

// joinRoom queues JOINED while holding the room lock, so a master leaving
// mid-join cannot slip ROOM_CLOSED in ahead of it.
func (s *WsServer) joinRoom(_ context.Context, c *ConnContext, req JoinRoomRequest) (NoReply, error) {
	if err := s.validate.Struct(req); err != nil {
		return NoReply{}, protoErr(CodeMissingFields, missingFields(err))
	}

	r, ok := s.rooms.GetRoom(req.RoomID)
	if !ok {
		return NoReply{}, protoErr(CodeRoomNotFound, "no room "+req.RoomID)
	}
	welcome := encode(Joined{
		Type:       TypeJoined,
		RoomID:     r.ID,
		ClientID:   req.ClientID,
		ServerTime: c.Session.stamp(s.now()),
	})
	switch err := r.Admit(req.ClientID, c.peer, welcome); {
	case errors.Is(err, room.ErrClientIDTaken):
		return NoReply{}, protoErr(CodeClientIDTaken, req.ClientID+" is already in room "+r.ID)
	case errors.Is(err, room.ErrRoomClosed):
		return NoReply{}, protoErr(CodeRoomNotFound, "no room "+req.RoomID)
	case err != nil:
		return NoReply{}, fmt.Errorf("join room: %w", err)
	}
	if err := c.Session.bind(r, req.ClientID, false); err != nil {
		return NoReply{}, err
	}

	s.relayToMaster(r, ClientNotice{Type: TypeClientJoined, RoomID: r.ID, ClientID: req.ClientID})
	s.publish(r, events.Event{Kind: events.ClientJoined, ClientID: req.ClientID, Clients: r.Len()})
	return NoReply{}, nil
}

func (s *WsServer) syncPing(_ context.Context, c *ConnContext, req SyncPingRequest) (SyncPong, error) {
	return SyncPong{
		Type:       TypeSyncPong,
		Seq:        req.Seq,
		T0:         req.T0,
		ServerTime: c.Session.stamp(s.now()),
	}, nil
}

func (s *WsServer) startAt(_ context.Context, c *ConnContext, req StartAtRequest) (NoReply, error) {
	at, ok := parseTimestamp(req.ServerTime)
	if !ok {
		return NoReply{}, protoErr(CodeBadTimestamp, "serverTime must be a non-negative number of milliseconds")
	}

	r := c.Session.Room()
	res := s.broadcast(r, StartAt{Type: TypeStartAt, RoomID: r.ID, ServerTime: req.ServerTime})
	s.publish(r, events.Event{
		Kind:       events.StartScheduled,
		ClientID:   c.Session.ClientID,
		Clients:    r.Len(),
		ServerTime: at,
		Recipients: res.SentTo,
	})
	return NoReply{}, nil
}

func (s *WsServer) ackStart(_ context.Context, c *ConnContext, req AckStartRequest) (NoReply, error) {
	r := c.Session.Room()
	s.relayToMaster(r, AckStart{Type: TypeAckStart, From: c.Session.ClientID, Payload: req.Payload})
	s.publish(r, events.Event{Kind: events.StartAcked, ClientID: c.Session.ClientID, Clients: r.Len()})
	return NoReply{}, nil
}

// ---------------------------------------------------------------------------
//  Helpers
// ---------------------------------------------------------------------------

// parseTimestamp accepts a finite, non-negative JSON number. Strings, null
// and booleans are rejected even when they look numeric.
func parseTimestamp(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func missingFields(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return "missing " + strings.Join(names, ", ")
}
