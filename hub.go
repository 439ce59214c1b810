package server

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"farfield/server/internal/proto"
)

// predictionWarnDistance is how far the client's predicted position may drift
// from the authoritative one before the divergence is logged.
const predictionWarnDistance = 64.0

// Hub is the server instance. It owns the world state store, the interest
// manager, the broadcast fan-out, and the connection registry, and it
// serializes the tick step and every inbound handler behind one mutex so no
// handler ever observes a half-updated entity.
type Hub struct {
	mu        sync.Mutex
	cfg       Config
	world     *World
	interest  *Interest
	registry  *Registry
	broadcast *Broadcaster
	telemetry *Telemetry
	logger    *zap.SugaredLogger
	nextID    atomic.Uint32
}

// NewHub assembles a hub from configuration. The world rng is seeded from the
// wall clock unless a fixed seed is supplied.
func NewHub(cfg Config, logger *zap.SugaredLogger, seed int64) *Hub {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	telemetry := NewTelemetry()
	registry := NewRegistry()
	return &Hub{
		cfg:       cfg,
		world:     NewWorld(cfg.World, seed),
		interest:  NewInterest(cfg.Interest),
		registry:  registry,
		broadcast: NewBroadcaster(cfg.Broadcast, registry, telemetry, logger),
		telemetry: telemetry,
		logger:    logger,
	}
}

// Telemetry exposes the counters for the diagnostics endpoint.
func (h *Hub) Telemetry() *Telemetry { return h.telemetry }

// Connect assigns a fresh server-chosen entity id, spawns the entity inside
// the spawn rectangle, creates its visibility record, and registers the
// transport, all under one lock acquisition. The new connection receives a
// WELCOME and a full snapshot on the immediate path; entities that can see
// the spawn point receive PLAYER_JOINED.
func (h *Hub) Connect(transport Transport) uint32 {
	id := h.nextID.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()

	ent := h.world.Spawn(id)
	h.interest.Add(id, ent.X, ent.Y)
	h.registry.Register(id, transport, h.cfg.Limits, time.Now())

	bounds := h.world.Bounds()
	h.sendNow(proto.Welcome{
		ID:          id,
		WorldWidth:  float32(bounds.MaxX),
		WorldHeight: float32(bounds.MaxY),
	}, []uint32{id})
	h.sendNow(h.snapshotMessageLocked(), []uint32{id})

	observers := h.interest.ObserversOf(id)
	h.sendNow(proto.PlayerJoined{
		ID:     id,
		X:      float32(ent.X),
		Y:      float32(ent.Y),
		Facing: ent.Facing,
	}, observers)

	h.logger.Infow("entity connected", "entity", id, "x", ent.X, "y", ent.Y)
	return id
}

// Disconnect removes the connection, its rate-limit state, its entity, and
// its visibility record together. Queued broadcasts still naming the entity
// are left alone; the flush step skips unknown targets lazily.
func (h *Hub) Disconnect(id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.registry.Get(id)
	if !ok {
		return
	}
	observers := h.interest.ObserversOf(id)

	h.registry.Deregister(id)
	h.world.Remove(id)
	h.interest.Remove(id)
	conn.transport.Close()

	h.sendNow(proto.PlayerLeft{ID: id}, observers)
	h.logger.Infow("entity disconnected", "entity", id, "session", conn.SessionID)
}

// HandleFrame processes one inbound frame from a connection. Rate-limit
// violations and undecodable frames are dropped without closing anything; a
// failure while applying a decoded input answers with a CORRECTION instead
// of propagating.
func (h *Hub) HandleFrame(id uint32, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.telemetry.IncFramesIn()
	conn, ok := h.registry.Get(id)
	if !ok {
		return
	}

	now := time.Now()
	if !conn.Allow(now) {
		// No rejection notice goes back; the sender only sees missing acks.
		h.telemetry.IncRateLimited()
		return
	}
	conn.Touch(now)

	msg, err := proto.Decode(frame)
	if err != nil {
		h.telemetry.IncMalformed()
		h.logger.Debugw("dropping malformed frame", "entity", id, "error", err)
		return
	}

	if err := h.dispatchLocked(id, msg); err != nil {
		h.telemetry.IncCorrection()
		h.logger.Warnw("input processing failed, correcting client", "entity", id, "error", err)
		if ent, ok := h.world.Get(id); ok {
			h.sendNow(proto.Correction{X: float32(ent.X), Y: float32(ent.Y)}, []uint32{id})
		}
	}
}

func (h *Hub) dispatchLocked(id uint32, msg proto.Message) error {
	switch m := msg.(type) {
	case proto.Move:
		if _, exists := h.world.Get(id); !exists {
			return errors.Errorf("move for unknown entity %d", id)
		}
		ent, accepted := h.world.SetMovement(id, m.DX, m.DY, m.Seq)
		if !accepted {
			// Out-of-order input; the newer state already won.
			h.telemetry.IncStaleInput()
			return nil
		}
		h.sendNow(proto.MovementAck{
			Seq: m.Seq,
			X:   float32(ent.X),
			Y:   float32(ent.Y),
		}, []uint32{id})
		drift := math.Hypot(float64(m.PredictedX)-ent.X, float64(m.PredictedY)-ent.Y)
		if drift > predictionWarnDistance {
			h.logger.Debugw("client prediction drifted", "entity", id, "drift", drift, "seq", m.Seq)
		}
		return nil
	case proto.Direction:
		ent, ok := h.world.SetFacing(id, m.Facing)
		if !ok {
			return errors.Errorf("direction for unknown entity %d", id)
		}
		return h.broadcast.Publish(proto.EntityFacing{ID: id, Facing: ent.Facing}, h.interest.ObserversOf(id), PriorityNormal)
	case proto.Attack:
		return h.setAttackingLocked(id, true)
	case proto.AttackEnd:
		return h.setAttackingLocked(id, false)
	case proto.Viewport:
		if m.Width <= 0 || m.Height <= 0 {
			return errors.Errorf("viewport %gx%g is not positive", m.Width, m.Height)
		}
		h.interest.UpdateViewport(id, float64(m.Width), float64(m.Height))
		return nil
	default:
		// Server-to-client tags arriving from a client are dropped like
		// any other malformed traffic.
		h.telemetry.IncMalformed()
		h.logger.Debugw("dropping unexpected message type", "entity", id, "tag", msg.Tag())
		return nil
	}
}

func (h *Hub) setAttackingLocked(id uint32, attacking bool) error {
	if _, ok := h.world.SetAttacking(id, attacking); !ok {
		return errors.Errorf("attack toggle for unknown entity %d", id)
	}
	// Attack transitions ride the immediate path: they are rare,
	// high-value, and latency-sensitive.
	h.sendNow(proto.EntityAttack{ID: id, Attacking: attacking}, h.interest.ObserversOf(id))
	return nil
}

// Tick advances the simulation one step: integrate movement, clamp, then
// route each actual position change through the interest manager and queue
// the movement delta to that entity's observers. A panic aborts only this
// tick; the scheduler keeps running.
func (h *Hub) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			h.telemetry.IncTickPanic()
			h.logger.Errorw("tick aborted by panic", "panic", r)
		}
	}()

	start := time.Now()
	changed := h.world.Step()
	for _, id := range changed {
		ent, ok := h.world.Get(id)
		if !ok {
			continue
		}
		h.interest.UpdatePosition(id, ent.X, ent.Y)
		_ = h.broadcast.Publish(proto.EntityMoved{
			ID: id,
			X:  float32(ent.X),
			Y:  float32(ent.Y),
			DX: ent.MoveX,
			DY: ent.MoveY,
		}, h.interest.ObserversOf(id), PriorityNormal)
	}
	h.telemetry.RecordTick(time.Since(start))
}

// DrainVisibility recomputes one bounded batch of queued visibility records.
func (h *Hub) DrainVisibility() {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.interest.DrainPending(h.cfg.Interest.DrainBatch)
	h.telemetry.AddVisibilityRecomputes(n)
}

// FlushBroadcasts drains one batch from the broadcast queue.
func (h *Hub) FlushBroadcasts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast.Flush()
}

// Resync pushes a full authoritative snapshot to every connection. This is
// the sole repair mechanism for drift accumulated from dropped deltas, and
// applying it twice leaves a client exactly where applying it once does.
func (h *Hub) Resync() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registry.Len() == 0 {
		return
	}
	h.telemetry.IncResync()
	h.sendNow(h.snapshotMessageLocked(), h.registry.EntityIDs())
}

func (h *Hub) snapshotMessageLocked() proto.GameState {
	entities := h.world.Snapshot()
	records := make([]proto.EntityRecord, 0, len(entities))
	for _, ent := range entities {
		records = append(records, proto.EntityRecord{
			ID:        ent.ID,
			X:         float32(ent.X),
			Y:         float32(ent.Y),
			Facing:    ent.Facing,
			Moving:    ent.Moving,
			Attacking: ent.Attacking,
		})
	}
	return proto.GameState{Entities: records}
}

func (h *Hub) sendNow(msg proto.Message, targets []uint32) {
	if err := h.broadcast.SendNow(msg, targets); err != nil {
		h.logger.Errorw("immediate send failed to encode", "error", err)
	}
}

// ApplyTuning applies the hot-adjustable knobs under the hub lock. Nil
// fields keep their current values.
func (h *Hub) ApplyTuning(t Tuning) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.SpeedPerTick != nil {
		h.world.SetSpeedPerTick(*t.SpeedPerTick)
		h.cfg.World.SpeedPerTick = h.world.SpeedPerTick()
	}
	if t.FlushBatch != nil {
		h.broadcast.SetFlushBatch(*t.FlushBatch)
		if *t.FlushBatch > 0 {
			h.cfg.Broadcast.FlushBatch = *t.FlushBatch
		}
	}
	if t.PerConnCap != nil {
		h.broadcast.SetPerConnCap(*t.PerConnCap)
		if *t.PerConnCap > 0 {
			h.cfg.Broadcast.PerConnCap = *t.PerConnCap
		}
	}
	if t.MessagesPerSecond != nil && *t.MessagesPerSecond > 0 {
		h.cfg.Limits.MessagesPerSecond = *t.MessagesPerSecond
	}
	if t.BurstLimit != nil && *t.BurstLimit > 0 {
		h.cfg.Limits.BurstLimit = *t.BurstLimit
	}
	if t.MessagesPerSecond != nil || t.BurstLimit != nil {
		for _, id := range h.registry.EntityIDs() {
			if conn, ok := h.registry.Get(id); ok {
				conn.limiter.Retune(h.cfg.Limits.MessagesPerSecond, h.cfg.Limits.BurstLimit)
			}
		}
	}
	h.logger.Infow("tuning applied",
		"speedPerTick", h.cfg.World.SpeedPerTick,
		"flushBatch", h.cfg.Broadcast.FlushBatch,
		"perConnCap", h.cfg.Broadcast.PerConnCap,
		"messagesPerSecond", h.cfg.Limits.MessagesPerSecond,
		"burstLimit", h.cfg.Limits.BurstLimit)
}

// CurrentTuning reports the live values of the hot-adjustable knobs.
func (h *Hub) CurrentTuning() Tuning {
	h.mu.Lock()
	defer h.mu.Unlock()
	speed := h.cfg.World.SpeedPerTick
	flushBatch := h.cfg.Broadcast.FlushBatch
	perConnCap := h.cfg.Broadcast.PerConnCap
	perSecond := h.cfg.Limits.MessagesPerSecond
	burst := h.cfg.Limits.BurstLimit
	return Tuning{
		SpeedPerTick:      &speed,
		FlushBatch:        &flushBatch,
		PerConnCap:        &perConnCap,
		MessagesPerSecond: &perSecond,
		BurstLimit:        &burst,
	}
}

// DiagnosticsSnapshot is the JSON document served at /diagnostics.
type DiagnosticsSnapshot struct {
	ServerTime        int64             `json:"serverTime"`
	TickRate          int               `json:"tickRate"`
	Entities          int               `json:"entities"`
	QueuedBroadcasts  int               `json:"queuedBroadcasts"`
	PendingVisibility int               `json:"pendingVisibility"`
	Counters          TelemetrySnapshot `json:"counters"`
}

// Diagnostics assembles the diagnostics document.
func (h *Hub) Diagnostics() DiagnosticsSnapshot {
	h.mu.Lock()
	entities := h.world.Len()
	queued := h.broadcast.QueueLen()
	pending := h.interest.PendingCount()
	tickRate := h.cfg.Server.TickRate
	h.mu.Unlock()
	return DiagnosticsSnapshot{
		ServerTime:        time.Now().UnixMilli(),
		TickRate:          tickRate,
		Entities:          entities,
		QueuedBroadcasts:  queued,
		PendingVisibility: pending,
		Counters:          h.telemetry.Snapshot(),
	}
}
