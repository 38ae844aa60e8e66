// Package archive keeps a durable history of room sessions and scheduled
// starts in Postgres. It only ever writes; the live registry never reads it.
package archive

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"syncstart/internal/events"
)

const (
	insertSession = `
	INSERT INTO room_sessions (room_id, room_created, master_id, peak_clients)
	     VALUES ($1, $2, $3, $4)
	ON CONFLICT (room_id, room_created) DO NOTHING`

	bumpPeak = `
	UPDATE room_sessions
	   SET peak_clients = GREATEST(peak_clients, $3)
	 WHERE room_id = $1 AND room_created = $2`

	closeSession = `
	UPDATE room_sessions
	   SET closed_at = $3, close_reason = $4,
	       peak_clients = GREATEST(peak_clients, $5)
	 WHERE room_id = $1 AND room_created = $2 AND closed_at IS NULL`

	insertSchedule = `
	INSERT INTO start_schedules (room_id, room_created, server_time, recipients, scheduled_at)
	     VALUES ($1, $2, $3, $4, $5)`
)

type Recorder struct {
	db *sql.DB
}

var _ events.Recorder = (*Recorder)(nil)

func New(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record maps an event onto the archive tables. Kinds with no archive
// representation are ignored.
func (r *Recorder) Record(ctx context.Context, e events.Event) error {
	var err error
	switch e.Kind {
	case events.RoomCreated:
		_, err = r.db.ExecContext(ctx, insertSession, e.RoomID, e.RoomCreatedAt, e.MasterID, max(e.Clients, 1))
	case events.ClientJoined:
		_, err = r.db.ExecContext(ctx, bumpPeak, e.RoomID, e.RoomCreatedAt, e.Clients)
	case events.StartScheduled:
		_, err = r.db.ExecContext(ctx, insertSchedule, e.RoomID, e.RoomCreatedAt, e.ServerTime, e.Recipients, e.At)
	case events.RoomClosed, events.RoomEvicted:
		err = r.close(ctx, e)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive %s: %w", e.Kind, err)
	}
	return nil
}

func (r *Recorder) close(ctx context.Context, e events.Event) error {
	res, err := r.db.ExecContext(ctx, closeSession, e.RoomID, e.RoomCreatedAt, e.At, e.Reason, e.Clients)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		zap.L().Debug("archive.close_missed",
			zap.String("room_id", e.RoomID),
			zap.String("reason", e.Reason))
	}
	return nil
}
