// Package events carries the room lifecycle journal. The journal is
// write-only: nothing in the server reads it back.
package events

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	RoomCreated    Kind = "room_created"
	ClientJoined   Kind = "client_joined"
	ClientLeft     Kind = "client_left"
	StartScheduled Kind = "start_scheduled"
	StartAcked     Kind = "start_acked"
	RoomClosed     Kind = "room_closed"
	RoomEvicted    Kind = "room_evicted"
)

// Event is one journal entry. RoomCreatedAt together with RoomID identifies
// a room instance, since ids are reused once a room is gone.
type Event struct {
	Kind          Kind      `json:"kind"`
	RoomID        string    `json:"room_id"`
	RoomCreatedAt time.Time `json:"room_created_at"`
	MasterID      string    `json:"master_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	Clients       int       `json:"clients"`
	ServerTime    int64     `json:"server_time,omitempty"`
	Recipients    int       `json:"recipients,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Recorder persists or forwards events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
func (Nop) Publish(Event)                       {}

// Multi records to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
