package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"syncstart/internal/events"
	"syncstart/internal/services/room"
)

const (
	writeWait     = 10 * time.Second
	handleTimeout = 2 * time.Second
)

type Options struct {
	ReadLimit  int64
	SendBuffer int
	// Empty allows every origin.
	AllowedOrigins []string
}

type WsServer struct {
	rooms    room.IRoomService
	router   *Router
	events   events.Publisher
	validate *validator.Validate
	upgrader websocket.Upgrader
	opts     Options
	now      func() time.Time

	conns   sync.Map // *clientConn -> struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool
}

// ConnContext is what handlers see of a connection.
type ConnContext struct {
	ID      string
	Server  *WsServer
	Session Session

	peer room.Peer
}

func NewWsServer(rooms room.IRoomService, pub events.Publisher, opts Options) *WsServer {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	srv := &WsServer{
		rooms:    rooms,
		router:   NewRouter(),
		events:   pub,
		validate: validator.New(),
		opts:     opts,
		now:      time.Now,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     srv.checkOrigin,
	}
	srv.registerHandlers() // ← all message types configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ginCtx.String(http.StatusServiceUnavailable, "shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		s.wg.Done()
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	if s.opts.ReadLimit > 0 {
		rawConn.SetReadLimit(s.opts.ReadLimit)
	}

	conn := newClientConn(uuid.NewString(), rawConn, s.opts.SendBuffer)
	rawConn.SetPongHandler(func(string) error {
		conn.alive.Store(true)
		return nil
	})
	s.conns.Store(conn, struct{}{})

	zap.L().Debug("ws.accept",
		zap.String("conn_id", conn.id),
		zap.String("remote", ginCtx.ClientIP()))

	go conn.writePump()
	go s.reader(conn)
}

// SweepRooms evicts empty and expired rooms and journals each eviction.
func (s *WsServer) SweepRooms(now time.Time) {
	for _, ev := range s.rooms.Sweep(now) {
		s.publish(ev.Room, events.Event{
			Kind:    events.RoomEvicted,
			Reason:  ev.Reason,
			Clients: ev.Room.Len(),
		})
	}
}

// SweepConns terminates connections that never answered the previous probe
// and probes the rest.
func (s *WsServer) SweepConns(time.Time) {
	s.conns.Range(func(k, _ any) bool {
		c := k.(*clientConn)
		if !c.alive.Load() {
			zap.L().Debug("ws.dead", zap.String("conn_id", c.id))
			c.terminate()
			return true
		}
		if err := c.ping(); err != nil {
			c.terminate()
		}
		return true
	})
}

// ConnCount is the number of open connections.
func (s *WsServer) ConnCount() int {
	n := 0
	s.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Shutdown refuses new connections, closes the open ones and waits for their
// cleanup to finish.
func (s *WsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.conns.Range(func(k, _ any) bool {
		k.(*clientConn).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.conns.Range(func(k, _ any) bool {
			k.(*clientConn).terminate()
			return true
		})
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) reader(conn *clientConn) {
	cc := &ConnContext{ID: conn.id, Server: s, peer: conn}
	defer func() {
		s.leave(cc)
		conn.Close()
		s.conns.Delete(conn)
		s.wg.Done()
	}()

	for {
		// Text and binary frames are handled alike.
		_, frame, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.L().Debug("ws.read", zap.String("conn_id", conn.id), zap.Error(err))
			}
			return
		}
		conn.alive.Store(true)
		s.handleFrame(cc, frame)
	}
}

// handleFrame runs one inbound frame to completion and sends the reply, if any.
func (s *WsServer) handleFrame(cc *ConnContext, frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	res, err := s.router.dispatch(ctx, cc, frame)
	if err != nil {
		cc.replyError(err)
		return
	}
	if res != nil {
		cc.reply(res)
	}
}

// leave runs once when the connection's read loop ends.
func (s *WsServer) leave(cc *ConnContext) {
	sess := &cc.Session
	if !sess.Bound() {
		return
	}
	r := sess.Room()
	current := s.rooms.IsCurrent(r)
	r.Remove(sess.ClientID, cc.peer)
	if !current {
		return
	}

	if sess.IsMaster {
		rest := s.rooms.CloseRoom(r)
		if rest == nil {
			return // a sweep got there first
		}
		msg := encode(RoomClosed{Type: TypeRoomClosed, RoomID: r.ID})
		for _, p := range rest {
			_ = p.Send(msg)
			p.Close()
		}
		s.publish(r, events.Event{
			Kind:     events.RoomClosed,
			ClientID: sess.ClientID,
			Reason:   room.ReasonMasterLeft,
			Clients:  len(rest),
		})
		return
	}

	s.relayToMaster(r, ClientNotice{Type: TypeClientLeft, RoomID: r.ID, ClientID: sess.ClientID})
	s.publish(r, events.Event{Kind: events.ClientLeft, ClientID: sess.ClientID, Clients: r.Len()})

	if evicted, reason := s.rooms.RemoveIfEmptyOrExpired(r, s.now()); evicted {
		s.publish(r, events.Event{Kind: events.RoomEvicted, Reason: reason, Clients: r.Len()})
	}
}

func (s *WsServer) checkOrigin(req *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}

func (s *WsServer) publish(r *room.Room, e events.Event) {
	e.RoomID = r.ID
	e.RoomCreatedAt = r.CreatedAt
	if e.MasterID == "" {
		e.MasterID = r.MasterID
	}
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	s.events.Publish(e)
}
