package ws

import (
	"errors"
	"time"

	"syncstart/internal/services/room"
)

var errAlreadyBound = errors.New("session already bound")

// Session binds a connection to one room. It is touched only by the
// connection's own read loop.
type Session struct {
	RoomID   string
	ClientID string
	IsMaster bool

	room           *room.Room
	lastServerTime int64
}

func (s *Session) Bound() bool { return s.room != nil }

// Room is the instance the session joined, which may since have been evicted.
func (s *Session) Room() *room.Room { return s.room }

func (s *Session) bind(r *room.Room, clientID string, master bool) error {
	if s.room != nil {
		return errAlreadyBound
	}
	s.room = r
	s.RoomID = r.ID
	s.ClientID = clientID
	s.IsMaster = master
	return nil
}

// stamp returns now in Unix milliseconds, never going below a value this
// session already handed out.
func (s *Session) stamp(now time.Time) int64 {
	ms := now.UnixMilli()
	if ms < s.lastServerTime {
		ms = s.lastServerTime
	}
	s.lastServerTime = ms
	return ms
}
