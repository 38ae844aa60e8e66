package room

import (
	"sync"
	"time"
)

// Peer is a non-owning handle to a client connection. A room sends through it
// but never owns its lifetime.
type Peer interface {
	// Send queues msg without blocking. Errors mean the message was dropped.
	Send(msg []byte) error
	// Close asks the transport to close the connection. It is idempotent.
	Close()
}

// PublishResult reports delivery of a single fan-out.
type PublishResult struct {
	SentTo  int
	Dropped []string // client ids whose queue refused the message
}

// Room is a live coordination group. ID, CreatedAt and MasterID never change.
type Room struct {
	ID        string
	CreatedAt time.Time
	MasterID  string

	mu      sync.RWMutex
	clients map[string]Peer
	peak    int
	closed  bool
}

func newRoom(id, masterID string, createdAt time.Time) *Room {
	return &Room{
		ID:        id,
		CreatedAt: createdAt,
		MasterID:  masterID,
		clients:   make(map[string]Peer),
	}
}

// Add inserts p under clientID. Existing entries are never overwritten.
func (r *Room) Add(clientID string, p Peer) error {
	return r.Admit(clientID, p, nil)
}

// Admit is Add, and also queues welcome on p before the room lock is
// released. A close racing the join therefore reaches p after welcome.
func (r *Room) Admit(clientID string, p Peer, welcome []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.clients[clientID]; ok {
		return ErrClientIDTaken
	}
	r.clients[clientID] = p
	if len(r.clients) > r.peak {
		r.peak = len(r.clients)
	}
	if welcome != nil {
		_ = p.Send(welcome)
	}
	return nil
}

// Remove deletes clientID only while it still refers to p.
func (r *Room) Remove(clientID string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[clientID]; !ok || cur != p {
		return false
	}
	delete(r.clients, clientID)
	return true
}

// Peer returns the handle registered for clientID.
func (r *Room) Peer(clientID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.clients[clientID]
	return p, ok
}

// Master returns the master's handle while the master is connected.
func (r *Room) Master() (Peer, bool) {
	return r.Peer(r.MasterID)
}

// Has reports whether clientID is currently in the room.
func (r *Room) Has(clientID string) bool {
	_, ok := r.Peer(clientID)
	return ok
}

// Len is the current client count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ClientIDs returns a snapshot of the client ids.
func (r *Room) ClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	return out
}

// Peak is the largest client count the room has had.
func (r *Room) Peak() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peak
}

// Closed reports whether the room has been torn down or evicted.
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Broadcast sends msg to every client in the room, master included.
// Sending happens outside the lock.
func (r *Room) Broadcast(msg []byte) PublishResult {
	type target struct {
		id string
		p  Peer
	}
	r.mu.RLock()
	targets := make([]target, 0, len(r.clients))
	for id, p := range r.clients {
		targets = append(targets, target{id, p})
	}
	r.mu.RUnlock()

	var res PublishResult
	for _, t := range targets {
		if err := t.p.Send(msg); err != nil {
			res.Dropped = append(res.Dropped, t.id)
			continue
		}
		res.SentTo++
	}
	return res
}

// Age is how long the room has existed at now.
func (r *Room) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// evictableLocked must be called with r.mu held.
func (r *Room) evictableLocked(now time.Time, ttl time.Duration) (bool, string) {
	if len(r.clients) == 0 {
		return true, ReasonEmpty
	}
	if ttl > 0 && now.Sub(r.CreatedAt) > ttl {
		return true, ReasonExpired
	}
	return false, ""
}

// closeLocked marks the room closed and hands back every remaining peer
// except the master. Must be called with r.mu held.
func (r *Room) closeLocked() map[string]Peer {
	r.closed = true
	rest := make(map[string]Peer, len(r.clients))
	for id, p := range r.clients {
		if id == r.MasterID {
			continue
		}
		rest[id] = p
	}
	clear(r.clients)
	return rest
}
