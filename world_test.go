package server

import "testing"

func testWorldConfig() WorldConfig {
	return WorldConfig{
		Width:        2000,
		Height:       2000,
		SpawnMinX:    200,
		SpawnMinY:    200,
		SpawnMaxX:    1800,
		SpawnMaxY:    1800,
		SpeedPerTick: 4,
	}
}

func TestStepIntegratesMovementPerAxis(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(1, 400, 300)
	if _, ok := w.SetMovement(1, 1, -1, 1); !ok {
		t.Fatalf("SetMovement rejected fresh input")
	}

	for step := 1; step <= 3; step++ {
		changed := w.Step()
		if len(changed) != 1 || changed[0] != 1 {
			t.Fatalf("step %d: changed = %v, want [1]", step, changed)
		}
	}

	ent, _ := w.Get(1)
	if ent.X != 412 || ent.Y != 288 {
		t.Fatalf("after 3 steps got (%g, %g), want (412, 288)", ent.X, ent.Y)
	}
}

func TestStepClampsAndPinsAtBoundary(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(1, 1994, 300)
	w.SetMovement(1, 1, 0, 1)

	if changed := w.Step(); len(changed) != 1 {
		t.Fatalf("first step changed = %v, want one id", changed)
	}
	if changed := w.Step(); len(changed) != 1 {
		t.Fatalf("second step changed = %v, want one id", changed)
	}
	ent, _ := w.Get(1)
	if ent.X != 2000 {
		t.Fatalf("x = %g, want clamped 2000", ent.X)
	}

	// Pinned against the boundary: no position change, no change report.
	if changed := w.Step(); len(changed) != 0 {
		t.Fatalf("pinned step changed = %v, want none", changed)
	}
	ent, _ = w.Get(1)
	if ent.X != 2000 || !ent.Moving {
		t.Fatalf("pinned entity x=%g moving=%v, want x=2000 and intent retained", ent.X, ent.Moving)
	}
}

func TestStepSkipsAttackingEntities(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(1, 500, 500)
	w.SetMovement(1, 1, 0, 1)
	w.SetAttacking(1, true)

	if changed := w.Step(); len(changed) != 0 {
		t.Fatalf("attacking entity moved: changed = %v", changed)
	}
	ent, _ := w.Get(1)
	if ent.X != 500 {
		t.Fatalf("x = %g, want 500 while attacking", ent.X)
	}

	w.SetAttacking(1, false)
	if changed := w.Step(); len(changed) != 1 {
		t.Fatalf("movement did not resume after attack end: changed = %v", changed)
	}
	ent, _ = w.Get(1)
	if ent.X != 504 {
		t.Fatalf("x = %g, want 504 after attack end", ent.X)
	}
}

func TestSetMovementRejectsStaleSequence(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(1, 500, 500)

	if _, ok := w.SetMovement(1, 1, 0, 5); !ok {
		t.Fatalf("seq 5 rejected")
	}
	if _, ok := w.SetMovement(1, -1, 0, 3); ok {
		t.Fatalf("stale seq 3 accepted after seq 5")
	}
	ent, _ := w.Get(1)
	if ent.MoveX != 1 || ent.LastInputSeq != 5 {
		t.Fatalf("stale input mutated state: moveX=%d lastSeq=%d", ent.MoveX, ent.LastInputSeq)
	}

	// Equal sequence is not stale; retransmits win.
	if _, ok := w.SetMovement(1, 0, 1, 5); !ok {
		t.Fatalf("equal seq 5 rejected")
	}
}

func TestSetMovementDerivesMovingFlag(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(1, 500, 500)

	ent, _ := w.SetMovement(1, 0, -1, 1)
	if !ent.Moving {
		t.Fatalf("nonzero vector but Moving is false")
	}
	ent, _ = w.SetMovement(1, 0, 0, 2)
	if ent.Moving {
		t.Fatalf("zero vector but Moving is true")
	}
}

func TestSpawnStaysInsideSpawnRect(t *testing.T) {
	cfg := testWorldConfig()
	w := NewWorld(cfg, 42)
	for id := uint32(1); id <= 20; id++ {
		ent := w.Spawn(id)
		if ent.X < cfg.SpawnMinX || ent.X > cfg.SpawnMaxX || ent.Y < cfg.SpawnMinY || ent.Y > cfg.SpawnMaxY {
			t.Fatalf("entity %d spawned at (%g, %g) outside spawn rect", id, ent.X, ent.Y)
		}
		if ent.Facing != 1 {
			t.Fatalf("entity %d initial facing = %d, want 1", id, ent.Facing)
		}
	}
}

func TestSnapshotOrderedByID(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(3, 300, 300)
	w.SpawnAt(1, 100, 100)
	w.SpawnAt(2, 200, 200)

	snap := w.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d entities, want 3", len(snap))
	}
	for i, ent := range snap {
		if ent.ID != uint32(i+1) {
			t.Fatalf("snapshot[%d].ID = %d, want %d", i, ent.ID, i+1)
		}
	}
}

func TestRemove(t *testing.T) {
	w := NewWorld(testWorldConfig(), 1)
	w.SpawnAt(1, 500, 500)
	if !w.Remove(1) {
		t.Fatalf("Remove reported missing for live entity")
	}
	if w.Remove(1) {
		t.Fatalf("second Remove reported success")
	}
	if _, ok := w.Get(1); ok {
		t.Fatalf("entity still readable after Remove")
	}
}
