package server

import (
	"time"

	"github.com/google/uuid"
)

// Conn is one registered connection: the transport handle, its rate-limit
// state, and bookkeeping for diagnostics. The session id exists only for
// logs; the wire identifies connections by entity id.
type Conn struct {
	EntityID     uint32
	SessionID    uuid.UUID
	transport    Transport
	limiter      *rateLimiter
	connectedAt  time.Time
	lastActivity time.Time
}

// Registry maps entity ids to live connections. One connection per entity.
// No internal locking; the hub serializes callers.
type Registry struct {
	conns map[uint32]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint32]*Conn)}
}

// Register creates a connection record for a freshly assigned entity id.
func (r *Registry) Register(entityID uint32, transport Transport, limits LimitConfig, now time.Time) *Conn {
	conn := &Conn{
		EntityID:     entityID,
		SessionID:    uuid.New(),
		transport:    transport,
		limiter:      newRateLimiter(limits),
		connectedAt:  now,
		lastActivity: now,
	}
	r.conns[entityID] = conn
	return conn
}

// Deregister removes the record, reporting whether it existed. The transport
// is not closed here; the session owner closes it.
func (r *Registry) Deregister(entityID uint32) bool {
	if _, ok := r.conns[entityID]; !ok {
		return false
	}
	delete(r.conns, entityID)
	return true
}

// Get returns the connection for an entity id.
func (r *Registry) Get(entityID uint32) (*Conn, bool) {
	conn, ok := r.conns[entityID]
	return conn, ok
}

// Transport implements the broadcaster's lookup. Missing ids are expected:
// queued broadcasts outlive disconnects and get skipped here.
func (r *Registry) Transport(entityID uint32) (Transport, bool) {
	conn, ok := r.conns[entityID]
	if !ok {
		return nil, false
	}
	return conn.transport, true
}

// Len reports the number of registered connections.
func (r *Registry) Len() int { return len(r.conns) }

// EntityIDs returns every registered id, for full-state resync fan-out.
func (r *Registry) EntityIDs() []uint32 {
	ids := make([]uint32, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Touch records inbound activity for diagnostics.
func (c *Conn) Touch(now time.Time) {
	c.lastActivity = now
}

// Allow applies both rate-limit windows to one inbound message.
func (c *Conn) Allow(now time.Time) bool {
	return c.limiter.Allow(now)
}
