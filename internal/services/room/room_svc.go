// Package room owns the set of live rooms and the rules for creating,
// joining and evicting them.
package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	ReasonEmpty      = "empty"
	ReasonExpired    = "expired"
	ReasonMasterLeft = "master_left"
)

var (
	ErrClientIDTaken = errors.New("client id already in room")
	ErrRoomClosed    = errors.New("room closed")
	ErrEmptyMasterID = errors.New("master id must not be empty")
)

// IDGenerator yields a fresh room id for which taken reports false.
type IDGenerator interface {
	Generate(taken func(id string) bool) (string, error)
}

// Eviction describes a room removed by a sweep.
type Eviction struct {
	Room   *Room
	Reason string
}

// RoomInfo is a read-only view for APIs; it carries no transport handles.
type RoomInfo struct {
	ID         string    `json:"room_id"`
	MasterID   string    `json:"master_id"`
	CreatedAt  time.Time `json:"created_at"`
	Clients    int       `json:"clients"`
	Peak       int       `json:"peak_clients"`
	AgeSeconds int64     `json:"age_seconds"`
}

type IRoomService interface {
	CreateRoom(masterID string, master Peer) (*Room, error)
	GetRoom(id string) (*Room, bool)
	IsCurrent(r *Room) bool
	CloseRoom(r *Room) map[string]Peer
	RemoveIfEmptyOrExpired(r *Room, now time.Time) (bool, string)
	Sweep(now time.Time) []Eviction
	ListRooms(limit, offset int) ([]RoomInfo, int)
	Info(id string) (RoomInfo, bool)
	Count() int
	TTL() time.Duration
}

type roomService struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	ids   IDGenerator
	ttl   time.Duration
	now   func() time.Time
}

var _ IRoomService = (*roomService)(nil)

// NewRoomService builds an empty registry. ttl <= 0 disables age-based
// eviction; empty rooms are still evicted.
func NewRoomService(ids IDGenerator, ttl time.Duration) IRoomService {
	return newRoomService(ids, ttl, time.Now)
}

func newRoomService(ids IDGenerator, ttl time.Duration, now func() time.Time) *roomService {
	return &roomService{
		rooms: make(map[string]*Room),
		ids:   ids,
		ttl:   ttl,
		now:   now,
	}
}

// CreateRoom allocates an id and registers a room whose client set already
// holds master, so no sweep can observe it empty.
func (svc *roomService) CreateRoom(masterID string, master Peer) (*Room, error) {
	if masterID == "" {
		return nil, ErrEmptyMasterID
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	id, err := svc.ids.Generate(func(candidate string) bool {
		_, taken := svc.rooms[candidate]
		return taken
	})
	if err != nil {
		return nil, err
	}

	r := newRoom(id, masterID, svc.now())
	if master != nil {
		r.clients[masterID] = master
		r.peak = 1
	}
	svc.rooms[id] = r

	zap.L().Info("room.created", zap.String("room_id", id), zap.String("master_id", masterID))
	return r, nil
}

func (svc *roomService) GetRoom(id string) (*Room, bool) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	r, ok := svc.rooms[id]
	return r, ok
}

// IsCurrent reports whether r is still the registered instance for r.ID.
// An id can be reused after eviction, so a stale *Room must not match.
func (svc *roomService) IsCurrent(r *Room) bool {
	if r == nil {
		return false
	}
	cur, ok := svc.GetRoom(r.ID)
	return ok && cur == r
}

// CloseRoom unregisters r unconditionally and returns the non-master peers
// that were still in it. Calling it again returns nil.
func (svc *roomService) CloseRoom(r *Room) map[string]Peer {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if cur, ok := svc.rooms[r.ID]; ok && cur == r {
		delete(svc.rooms, r.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	rest := r.closeLocked()
	zap.L().Info("room.closed",
		zap.String("room_id", r.ID),
		zap.String("reason", ReasonMasterLeft),
		zap.Int("remaining", len(rest)))
	return rest
}

// RemoveIfEmptyOrExpired evicts r when it has no clients or is older than
// the TTL. It is safe to call repeatedly.
func (svc *roomService) RemoveIfEmptyOrExpired(r *Room, now time.Time) (bool, string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.evictLocked(r, now)
}

func (svc *roomService) evictLocked(r *Room, now time.Time) (bool, string) {
	if cur, ok := svc.rooms[r.ID]; !ok || cur != r {
		return false, ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evict, reason := r.evictableLocked(now, svc.ttl)
	if !evict {
		return false, ""
	}
	r.closed = true
	delete(svc.rooms, r.ID)
	zap.L().Info("room.evicted",
		zap.String("room_id", r.ID),
		zap.String("reason", reason),
		zap.Duration("age", r.Age(now)))
	return true, reason
}

// Sweep applies RemoveIfEmptyOrExpired to every room.
func (svc *roomService) Sweep(now time.Time) []Eviction {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	var out []Eviction
	for _, r := range svc.rooms {
		if ok, reason := svc.evictLocked(r, now); ok {
			out = append(out, Eviction{Room: r, Reason: reason})
		}
	}
	return out
}

// ListRooms returns a page of rooms ordered by creation time, oldest first,
// along with the total count.
func (svc *roomService) ListRooms(limit, offset int) ([]RoomInfo, int) {
	svc.mu.RLock()
	all := make([]*Room, 0, len(svc.rooms))
	for _, r := range svc.rooms {
		all = append(all, r)
	}
	svc.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []RoomInfo{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	now := svc.now()
	out := make([]RoomInfo, 0, end-offset)
	for _, r := range all[offset:end] {
		out = append(out, infoOf(r, now))
	}
	return out, total
}

func (svc *roomService) Info(id string) (RoomInfo, bool) {
	r, ok := svc.GetRoom(id)
	if !ok {
		return RoomInfo{}, false
	}
	return infoOf(r, svc.now()), true
}

func (svc *roomService) Count() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.rooms)
}

func (svc *roomService) TTL() time.Duration { return svc.ttl }

func infoOf(r *Room, now time.Time) RoomInfo {
	return RoomInfo{
		ID:         r.ID,
		MasterID:   r.MasterID,
		CreatedAt:  r.CreatedAt,
		Clients:    r.Len(),
		Peak:       r.Peak(),
		AgeSeconds: int64(r.Age(now) / time.Second),
	}
}
