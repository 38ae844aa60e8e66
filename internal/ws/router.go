package ws

import (
	"context"
	"encoding/json"
	"sync"
)

// Guard runs before a frame is decoded and can refuse it.
type Guard func(c *ConnContext) error

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, frame []byte) (any, error)

// Router keeps a map[type]handler, à‑la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds a message type to a strongly‑typed handler. The whole frame
// is decoded into Req, since request fields sit next to "type". Guards run
// first, in order; a NoReply result sends nothing back.
func Register[Req any, Res any](
	r *Router,
	msgType string,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
	guards ...Guard,
) {
	if msgType == "" {
		panic("ws router: empty message type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.handlers[msgType]; dup {
		panic("ws router: duplicate handler for " + msgType)
	}

	r.handlers[msgType] = func(ctx context.Context, c *ConnContext, frame []byte) (any, error) {
		for _, g := range guards {
			if err := g(c); err != nil {
				return nil, err
			}
		}
		var req Req
		if err := json.Unmarshal(frame, &req); err != nil {
			return nil, protoErr(CodeBadJSON, err.Error())
		}
		res, err := h(ctx, c, req)
		if err != nil {
			return nil, err
		}
		if _, skip := any(res).(NoReply); skip {
			return nil, nil
		}
		return res, nil
	}
}

// dispatch parses the envelope and routes the frame by its type.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, frame []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, protoErr(CodeBadJSON, err.Error())
	}
	if env.Type == "" {
		return nil, protoErr(CodeBadJSON, "missing type")
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, protoErr(CodeUnknownType, env.Type)
	}
	return h(ctx, c, frame)
}
