package relay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Conn is the outbound side of a vehicle's transport. Send must give up once
// ctx is done. Implementations must be comparable (pointer types).
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type Vehicle struct {
	ID          string
	Conn        Conn
	ConnectedAt time.Time
	LastSeen    time.Time
}

type VehicleInfo struct {
	ID          string    `json:"vehicle_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Registry maps vehicle IDs to their live connections. A connection is held
// under at most one ID.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
	byConn   map[Conn]string
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		vehicles: make(map[string]*Vehicle),
		byConn:   make(map[Conn]string),
		now:      time.Now,
	}
}

// Register stores conn under id, replacing whatever connection held id
// before. The replaced connection, if any, is returned; it is not closed.
func (r *Registry) Register(id string, conn Conn) (count int, replaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	connectedAt := now

	if oldID, ok := r.byConn[conn]; ok && oldID != id {
		delete(r.vehicles, oldID)
	}

	if existing, ok := r.vehicles[id]; ok {
		if existing.Conn == conn {
			connectedAt = existing.ConnectedAt
		} else {
			replaced = existing.Conn
			delete(r.byConn, existing.Conn)
		}
	}

	r.vehicles[id] = &Vehicle{
		ID:          id,
		Conn:        conn,
		ConnectedAt: connectedAt,
		LastSeen:    now,
	}
	r.byConn[conn] = id

	return len(r.vehicles), replaced
}

// Unregister removes id if it is still held by conn. It reports whether an
// entry was removed, so repeated calls are harmless.
func (r *Registry) Unregister(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vehicles[id]
	if !ok || v.Conn != conn {
		return false
	}
	delete(r.vehicles, id)
	delete(r.byConn, conn)
	return true
}

// Owns reports whether id is currently registered to conn.
func (r *Registry) Owns(id string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vehicles[id]
	return ok && v.Conn == conn
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.vehicles[id]
	return ok
}

func (r *Registry) Touch(id string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.vehicles[id]; ok && v.Conn == conn {
		v.LastSeen = r.now()
	}
}

// Others returns a snapshot of every registered vehicle except excludeID.
func (r *Registry) Others(excludeID string) []Vehicle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.othersLocked(excludeID)
}

// Recipients returns the Others snapshot for senderID, taken under the same
// lock that confirms senderID is registered. A non-nil conn must also be the
// connection holding senderID.
func (r *Registry) Recipients(senderID string, conn Conn) ([]Vehicle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vehicles[senderID]
	if !ok || (conn != nil && v.Conn != conn) {
		return nil, false
	}
	return r.othersLocked(senderID), true
}

func (r *Registry) othersLocked(excludeID string) []Vehicle {
	out := make([]Vehicle, 0, len(r.vehicles))
	for id, v := range r.vehicles {
		if id == excludeID {
			continue
		}
		out = append(out, *v)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.vehicles)
}

func (r *Registry) List() []VehicleInfo {
	r.mu.RLock()
	out := make([]VehicleInfo, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, VehicleInfo{ID: v.ID, ConnectedAt: v.ConnectedAt, LastSeen: v.LastSeen})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []Vehicle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, *v)
	}
	r.vehicles = make(map[string]*Vehicle)
	r.byConn = make(map[Conn]string)
	return out
}
