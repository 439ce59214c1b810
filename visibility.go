package server

import (
	"math"
	"sort"
	"time"
)

// visibilityRecord caches one entity's buffered viewport and the set of other
// entities currently inside it. The viewport rectangle is only recentred when
// the record is recomputed, not on every position update.
type visibilityRecord struct {
	id            uint32
	viewW         float64
	viewH         float64
	viewport      Rect
	visible       map[uint32]struct{}
	curX          float64
	curY          float64
	lastX         float64
	lastY         float64
	lastRecompute time.Time
}

// Interest maintains directional visibility between entities: A seeing B says
// nothing about B seeing A. Recomputation is deferred to a pending set that
// the scheduler drains in bounded batches, so a burst of simultaneous updates
// never stalls the tick loop. No internal locking; the hub serializes callers.
type Interest struct {
	cfg          InterestConfig
	records      map[uint32]*visibilityRecord
	pending      map[uint32]struct{}
	pendingOrder []uint32
}

// NewInterest builds an empty visibility index.
func NewInterest(cfg InterestConfig) *Interest {
	return &Interest{
		cfg:     cfg,
		records: make(map[uint32]*visibilityRecord),
		pending: make(map[uint32]struct{}),
	}
}

// Add creates a record with the default viewport, computes its initial
// visible set against every other entity's last-known position, and inserts
// the newcomer into every existing viewport that already contains it.
func (in *Interest) Add(id uint32, x, y float64) {
	rec := &visibilityRecord{
		id:      id,
		viewW:   in.cfg.ViewportWidth,
		viewH:   in.cfg.ViewportHeight,
		visible: make(map[uint32]struct{}),
		curX:    x,
		curY:    y,
	}
	in.records[id] = rec
	in.recompute(rec)

	for otherID, other := range in.records {
		if otherID == id {
			continue
		}
		if other.viewport.Contains(x, y) {
			other.visible[id] = struct{}{}
		}
	}
}

// Remove drops the record and scrubs the id from every other visible set and
// from the pending queue.
func (in *Interest) Remove(id uint32) {
	if _, ok := in.records[id]; !ok {
		return
	}
	delete(in.records, id)
	delete(in.pending, id)
	for _, other := range in.records {
		delete(other.visible, id)
	}
}

// UpdatePosition records a new position for the mover and queues whatever the
// move invalidated. Two distinct triggers exist: the mover's own displacement
// since its last recompute crossing the threshold, and any other entity's
// cached viewport gaining or losing the mover. The second trigger is why a
// moving entity can change visible sets it does not own.
func (in *Interest) UpdatePosition(id uint32, x, y float64) {
	rec, ok := in.records[id]
	if !ok {
		return
	}
	rec.curX = x
	rec.curY = y

	if math.Hypot(x-rec.lastX, y-rec.lastY) > in.cfg.MoveThreshold {
		in.enqueue(id)
	}

	for otherID, other := range in.records {
		if otherID == id {
			continue
		}
		_, was := other.visible[id]
		now := other.viewport.Contains(x, y)
		if was != now {
			in.enqueue(otherID)
		}
	}
}

// UpdateViewport applies a client-reported viewport size, recomputing only
// when either axis changes by more than the movement threshold.
func (in *Interest) UpdateViewport(id uint32, width, height float64) {
	rec, ok := in.records[id]
	if !ok {
		return
	}
	if abs(width-rec.viewW) <= in.cfg.MoveThreshold && abs(height-rec.viewH) <= in.cfg.MoveThreshold {
		return
	}
	rec.viewW = width
	rec.viewH = height
	in.enqueue(id)
}

// DrainPending recomputes up to limit queued records in arrival order and
// returns how many were processed. The remainder stays queued for the next
// drain interval.
func (in *Interest) DrainPending(limit int) int {
	if limit <= 0 || len(in.pendingOrder) == 0 {
		return 0
	}
	processed := 0
	for processed < limit && len(in.pendingOrder) > 0 {
		id := in.pendingOrder[0]
		in.pendingOrder = in.pendingOrder[1:]
		delete(in.pending, id)
		rec, ok := in.records[id]
		if !ok {
			// Entity disconnected while queued.
			continue
		}
		in.recompute(rec)
		processed++
	}
	return processed
}

// PendingCount reports the size of the recompute queue.
func (in *Interest) PendingCount() int { return len(in.pendingOrder) }

// VisibleSet returns a sorted copy of the ids visible to the entity,
// excluding itself.
func (in *Interest) VisibleSet(id uint32) []uint32 {
	rec, ok := in.records[id]
	if !ok {
		return nil
	}
	ids := make([]uint32, 0, len(rec.visible))
	for otherID := range rec.visible {
		if otherID != id {
			ids = append(ids, otherID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ObserversOf returns every entity that currently has id in its visible set.
// This is the target set for broadcasts about id.
func (in *Interest) ObserversOf(id uint32) []uint32 {
	var observers []uint32
	for otherID, other := range in.records {
		if otherID == id {
			continue
		}
		if _, ok := other.visible[id]; ok {
			observers = append(observers, otherID)
		}
	}
	sort.Slice(observers, func(i, j int) bool { return observers[i] < observers[j] })
	return observers
}

func (in *Interest) enqueue(id uint32) {
	if _, ok := in.pending[id]; ok {
		return
	}
	in.pending[id] = struct{}{}
	in.pendingOrder = append(in.pendingOrder, id)
}

// recompute recentres the buffered viewport on the entity's current position
// and rebuilds its visible set from scratch.
func (in *Interest) recompute(rec *visibilityRecord) {
	rec.viewport = rectAround(rec.curX, rec.curY, rec.viewW*in.cfg.BufferScale, rec.viewH*in.cfg.BufferScale)
	rec.visible = make(map[uint32]struct{})
	for otherID, other := range in.records {
		if otherID == rec.id {
			continue
		}
		if rec.viewport.Contains(other.curX, other.curY) {
			rec.visible[otherID] = struct{}{}
		}
	}
	rec.lastX = rec.curX
	rec.lastY = rec.curY
	rec.lastRecompute = time.Now()
}
