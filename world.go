package server

import (
	"math/rand"
	"sort"
)

// Entity is the authoritative state of one connected player.
type Entity struct {
	ID           uint32
	X            float64
	Y            float64
	Facing       int8
	Moving       bool
	Attacking    bool
	MoveX        int8
	MoveY        int8
	LastInputSeq uint32
}

type entityState struct {
	Entity
}

// World is the authoritative entity store. It performs no locking of its own;
// the hub serializes every caller.
type World struct {
	bounds   Rect
	spawn    Rect
	speed    float64
	entities map[uint32]*entityState
	rng      *rand.Rand
}

// NewWorld builds an empty world from the configured bounds and spawn area.
func NewWorld(cfg WorldConfig, seed int64) *World {
	return &World{
		bounds:   Rect{MaxX: cfg.Width, MaxY: cfg.Height},
		spawn:    Rect{MinX: cfg.SpawnMinX, MinY: cfg.SpawnMinY, MaxX: cfg.SpawnMaxX, MaxY: cfg.SpawnMaxY},
		speed:    cfg.SpeedPerTick,
		entities: make(map[uint32]*entityState),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Bounds returns the world boundary rectangle.
func (w *World) Bounds() Rect { return w.bounds }

// SpeedPerTick returns the current per-tick movement speed.
func (w *World) SpeedPerTick() float64 { return w.speed }

// SetSpeedPerTick applies a hot-tuned movement speed.
func (w *World) SetSpeedPerTick(speed float64) {
	if speed > 0 {
		w.speed = speed
	}
}

// Spawn creates an entity at a randomized position inside the spawn
// rectangle and returns its initial state.
func (w *World) Spawn(id uint32) Entity {
	x := w.spawn.MinX + w.rng.Float64()*(w.spawn.MaxX-w.spawn.MinX)
	y := w.spawn.MinY + w.rng.Float64()*(w.spawn.MaxY-w.spawn.MinY)
	state := &entityState{Entity: Entity{ID: id, X: x, Y: y, Facing: 1}}
	w.entities[id] = state
	return state.Entity
}

// SpawnAt places an entity at an exact position, clamped to bounds. Used by
// tests and diagnostics tooling.
func (w *World) SpawnAt(id uint32, x, y float64) Entity {
	state := &entityState{Entity: Entity{
		ID:     id,
		X:      clamp(x, w.bounds.MinX, w.bounds.MaxX),
		Y:      clamp(y, w.bounds.MinY, w.bounds.MaxY),
		Facing: 1,
	}}
	w.entities[id] = state
	return state.Entity
}

// Remove deletes an entity, reporting whether it existed.
func (w *World) Remove(id uint32) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	return true
}

// Get returns a copy of an entity's state.
func (w *World) Get(id uint32) (Entity, bool) {
	state, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return state.Entity, true
}

// Len reports the number of live entities.
func (w *World) Len() int { return len(w.entities) }

// Snapshot copies every entity, ordered by id so resync frames are stable.
func (w *World) Snapshot() []Entity {
	entities := make([]Entity, 0, len(w.entities))
	for _, state := range w.entities {
		entities = append(entities, state.Entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

// SetMovement records a movement intent. Inputs older than the last accepted
// sequence are rejected; the stored sequence never decreases. The moving flag
// is derived from the vector so the two can never disagree.
func (w *World) SetMovement(id uint32, dx, dy int8, seq uint32) (Entity, bool) {
	state, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	if seq < state.LastInputSeq {
		return state.Entity, false
	}
	state.MoveX = dx
	state.MoveY = dy
	state.Moving = dx != 0 || dy != 0
	state.LastInputSeq = seq
	return state.Entity, true
}

// SetFacing updates an entity's facing.
func (w *World) SetFacing(id uint32, facing int8) (Entity, bool) {
	state, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	state.Facing = facing
	return state.Entity, true
}

// SetAttacking toggles an entity's attack state. Movement intent is kept;
// integration skips attacking entities until the attack ends.
func (w *World) SetAttacking(id uint32, attacking bool) (Entity, bool) {
	state, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	state.Attacking = attacking
	return state.Entity, true
}

// Step integrates one tick of movement for every moving, non-attacking
// entity: each axis advances independently by vector × speed, then clamps to
// the world rectangle. Returns the ids whose position actually changed, so an
// entity pinned against the boundary produces no broadcast.
func (w *World) Step() []uint32 {
	var changed []uint32
	for id, state := range w.entities {
		if !state.Moving || state.Attacking {
			continue
		}
		newX := clamp(state.X+float64(state.MoveX)*w.speed, w.bounds.MinX, w.bounds.MaxX)
		newY := clamp(state.Y+float64(state.MoveY)*w.speed, w.bounds.MinY, w.bounds.MaxY)
		if newX == state.X && newY == state.Y {
			continue
		}
		state.X = newX
		state.Y = newY
		changed = append(changed, id)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed
}
