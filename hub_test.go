package server

import (
	"bytes"
	"math"
	"testing"

	"farfield/server/internal/proto"
)

// testHubConfig narrows the spawn rectangle so every pair of entities spawns
// inside each other's buffered viewport.
func testHubConfig() Config {
	cfg := DefaultConfig()
	cfg.Server.LogFile = ""
	cfg.World.SpawnMinX = 900
	cfg.World.SpawnMinY = 900
	cfg.World.SpawnMaxX = 1100
	cfg.World.SpawnMaxY = 1100
	return cfg
}

func mustEncode(t *testing.T, msg proto.Message) []byte {
	t.Helper()
	payload, err := proto.Encode(msg)
	if err != nil {
		t.Fatalf("encode %T: %v", msg, err)
	}
	return payload
}

func findRecord(t *testing.T, state proto.GameState, id uint32) proto.EntityRecord {
	t.Helper()
	for _, rec := range state.Entities {
		if rec.ID == id {
			return rec
		}
	}
	t.Fatalf("entity %d missing from snapshot %v", id, state.Entities)
	return proto.EntityRecord{}
}

func lastGameState(t *testing.T, tr *captureTransport) proto.GameState {
	t.Helper()
	msgs := decodeFrames(t, tr.frames)
	for i := len(msgs) - 1; i >= 0; i-- {
		if state, ok := msgs[i].(proto.GameState); ok {
			return state
		}
	}
	t.Fatalf("no snapshot frame among %d frames", len(msgs))
	return proto.GameState{}
}

func TestConnectSendsWelcomeAndSnapshot(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)

	msgs := decodeFrames(t, tr.frames)
	if len(msgs) != 2 {
		t.Fatalf("new connection received %d frames, want 2", len(msgs))
	}
	welcome, ok := msgs[0].(proto.Welcome)
	if !ok {
		t.Fatalf("first frame is %T, want Welcome", msgs[0])
	}
	if welcome.ID != id || welcome.WorldWidth != 2000 || welcome.WorldHeight != 2000 {
		t.Fatalf("welcome = %+v, want id %d and 2000x2000 world", welcome, id)
	}
	state, ok := msgs[1].(proto.GameState)
	if !ok {
		t.Fatalf("second frame is %T, want GameState", msgs[1])
	}
	findRecord(t, state, id)
}

func TestConnectNotifiesObservers(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	trA := &captureTransport{}
	h.Connect(trA)
	trB := &captureTransport{}
	idB := h.Connect(trB)

	msgs := decodeFrames(t, trA.frames)
	joined, ok := msgs[len(msgs)-1].(proto.PlayerJoined)
	if !ok {
		t.Fatalf("observer's last frame is %T, want PlayerJoined", msgs[len(msgs)-1])
	}
	if joined.ID != idB {
		t.Fatalf("PlayerJoined.ID = %d, want %d", joined.ID, idB)
	}

	stateB := lastGameState(t, trB)
	if len(stateB.Entities) != 2 {
		t.Fatalf("second connection's snapshot has %d entities, want 2", len(stateB.Entities))
	}
}

func TestMoveAckCarriesAuthoritativePosition(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)
	rec := findRecord(t, lastGameState(t, tr), id)
	tr.frames = nil

	h.HandleFrame(id, mustEncode(t, proto.Move{DX: 1, DY: 0, Seq: 5, PredictedX: rec.X + 4, PredictedY: rec.Y}))

	msgs := decodeFrames(t, tr.frames)
	if len(msgs) != 1 {
		t.Fatalf("received %d frames, want 1 ack", len(msgs))
	}
	ack, ok := msgs[0].(proto.MovementAck)
	if !ok {
		t.Fatalf("frame is %T, want MovementAck", msgs[0])
	}
	// The intent is applied at the next tick; the ack carries the current
	// authoritative position, not the predicted one.
	if ack.Seq != 5 || ack.X != rec.X || ack.Y != rec.Y {
		t.Fatalf("ack = %+v, want seq 5 at (%g, %g)", ack, rec.X, rec.Y)
	}

	h.Tick()
	h.Resync()
	after := findRecord(t, lastGameState(t, tr), id)
	if math.Abs(float64(after.X-rec.X-4)) > 0.01 || after.Y != rec.Y {
		t.Fatalf("after tick at (%g, %g), want (%g, %g)", after.X, after.Y, rec.X+4, rec.Y)
	}
}

func TestStaleMoveIgnoredSilently(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)
	rec := findRecord(t, lastGameState(t, tr), id)
	tr.frames = nil

	h.HandleFrame(id, mustEncode(t, proto.Move{DX: 1, Seq: 5}))
	h.HandleFrame(id, mustEncode(t, proto.Move{DX: -1, Seq: 3}))

	if len(tr.frames) != 1 {
		t.Fatalf("received %d frames, want only the first ack", len(tr.frames))
	}
	if got := h.Telemetry().Snapshot().StaleInputs; got != 1 {
		t.Fatalf("StaleInputs = %d, want 1", got)
	}

	// The newer vector still wins the tick.
	h.Tick()
	h.Resync()
	after := findRecord(t, lastGameState(t, tr), id)
	if math.Abs(float64(after.X-rec.X-4)) > 0.01 {
		t.Fatalf("x = %g, want %g from the seq-5 vector", after.X, rec.X+4)
	}
}

func TestCorrectionOnRejectedInput(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)
	rec := findRecord(t, lastGameState(t, tr), id)
	tr.frames = nil

	h.HandleFrame(id, mustEncode(t, proto.Viewport{Width: -5, Height: 100}))

	msgs := decodeFrames(t, tr.frames)
	if len(msgs) != 1 {
		t.Fatalf("received %d frames, want 1 correction", len(msgs))
	}
	corr, ok := msgs[0].(proto.Correction)
	if !ok {
		t.Fatalf("frame is %T, want Correction", msgs[0])
	}
	if corr.X != rec.X || corr.Y != rec.Y {
		t.Fatalf("correction at (%g, %g), want authoritative (%g, %g)", corr.X, corr.Y, rec.X, rec.Y)
	}
	if got := h.Telemetry().Snapshot().Corrections; got != 1 {
		t.Fatalf("Corrections = %d, want 1", got)
	}

	// The connection survives a rejected input.
	tr.frames = nil
	h.HandleFrame(id, mustEncode(t, proto.Move{DX: 1, Seq: 1}))
	if len(tr.frames) != 1 {
		t.Fatalf("connection dead after correction: %d frames", len(tr.frames))
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)
	tr.frames = nil

	h.HandleFrame(id, []byte{0xEE, 0x01})
	// A well-formed frame carrying a server-to-client tag is equally invalid
	// as input.
	h.HandleFrame(id, mustEncode(t, proto.PlayerLeft{ID: 7}))

	if len(tr.frames) != 0 {
		t.Fatalf("malformed input produced %d reply frames", len(tr.frames))
	}
	if got := h.Telemetry().Snapshot().MalformedFrames; got != 2 {
		t.Fatalf("MalformedFrames = %d, want 2", got)
	}
}

func TestRateLimitDropsSilently(t *testing.T) {
	cfg := testHubConfig()
	cfg.Limits.MessagesPerSecond = 3
	cfg.Limits.BurstLimit = 1000
	h := NewHub(cfg, testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)
	tr.frames = nil

	for seq := uint32(1); seq <= 5; seq++ {
		h.HandleFrame(id, mustEncode(t, proto.Move{DX: 1, Seq: seq}))
	}

	if len(tr.frames) != 3 {
		t.Fatalf("received %d acks, want 3 inside the limit", len(tr.frames))
	}
	if got := h.Telemetry().Snapshot().RateLimited; got != 2 {
		t.Fatalf("RateLimited = %d, want 2", got)
	}
}

func TestDisconnectNotifiesObserversAndReleasesState(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	trA := &captureTransport{}
	h.Connect(trA)
	trB := &captureTransport{}
	idB := h.Connect(trB)
	trA.frames = nil

	h.Disconnect(idB)

	msgs := decodeFrames(t, trA.frames)
	if len(msgs) != 1 {
		t.Fatalf("observer received %d frames, want 1", len(msgs))
	}
	left, ok := msgs[0].(proto.PlayerLeft)
	if !ok || left.ID != idB {
		t.Fatalf("frame = %+v, want PlayerLeft for %d", msgs[0], idB)
	}
	if !trB.closed {
		t.Fatalf("disconnected transport not closed")
	}

	// Repeat disconnects are no-ops.
	h.Disconnect(idB)

	trA.frames = nil
	h.Resync()
	state := lastGameState(t, trA)
	if len(state.Entities) != 1 {
		t.Fatalf("snapshot after disconnect has %d entities, want 1", len(state.Entities))
	}
}

func TestResyncPayloadIsStable(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	trA := &captureTransport{}
	h.Connect(trA)
	trB := &captureTransport{}
	h.Connect(trB)
	trA.frames = nil

	h.Resync()
	h.Resync()

	if len(trA.frames) != 2 {
		t.Fatalf("received %d snapshots, want 2", len(trA.frames))
	}
	if !bytes.Equal(trA.frames[0], trA.frames[1]) {
		t.Fatalf("back-to-back snapshots differ with unchanged world")
	}
	if got := h.Telemetry().Snapshot().Resyncs; got != 2 {
		t.Fatalf("Resyncs = %d, want 2", got)
	}
}

func TestResyncWithNoConnectionsIsNoOp(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	h.Resync()
	if got := h.Telemetry().Snapshot().Resyncs; got != 0 {
		t.Fatalf("Resyncs = %d, want 0 with nobody connected", got)
	}
}

func TestTickPublishesMovementToObserversOnly(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	trA := &captureTransport{}
	h.Connect(trA)
	trB := &captureTransport{}
	idB := h.Connect(trB)
	trA.frames = nil
	trB.frames = nil

	h.HandleFrame(idB, mustEncode(t, proto.Move{DX: 1, Seq: 1}))
	h.Tick()
	h.FlushBroadcasts()

	var sawMove bool
	for _, msg := range decodeFrames(t, trA.frames) {
		moved, ok := msg.(proto.EntityMoved)
		if !ok {
			continue
		}
		if moved.ID != idB || moved.DX != 1 {
			t.Fatalf("EntityMoved = %+v, want id %d dx 1", moved, idB)
		}
		sawMove = true
	}
	if !sawMove {
		t.Fatalf("observer never received the movement delta")
	}

	for _, msg := range decodeFrames(t, trB.frames) {
		if _, ok := msg.(proto.EntityMoved); ok {
			t.Fatalf("mover received its own movement delta")
		}
	}
}

func TestAttackRidesImmediatePath(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	trA := &captureTransport{}
	h.Connect(trA)
	trB := &captureTransport{}
	idB := h.Connect(trB)
	trA.frames = nil

	// No flush between input and assertion: delivery must be immediate.
	h.HandleFrame(idB, mustEncode(t, proto.Attack{}))
	h.HandleFrame(idB, mustEncode(t, proto.AttackEnd{}))

	msgs := decodeFrames(t, trA.frames)
	if len(msgs) != 2 {
		t.Fatalf("observer received %d frames, want 2", len(msgs))
	}
	start, ok := msgs[0].(proto.EntityAttack)
	if !ok || start.ID != idB || !start.Attacking {
		t.Fatalf("first frame = %+v, want attack start for %d", msgs[0], idB)
	}
	end, ok := msgs[1].(proto.EntityAttack)
	if !ok || end.ID != idB || end.Attacking {
		t.Fatalf("second frame = %+v, want attack end for %d", msgs[1], idB)
	}
}

func TestApplyTuningChangesSpeed(t *testing.T) {
	h := NewHub(testHubConfig(), testLogger(), 1)
	tr := &captureTransport{}
	id := h.Connect(tr)
	rec := findRecord(t, lastGameState(t, tr), id)

	speed := 10.0
	h.ApplyTuning(Tuning{SpeedPerTick: &speed})
	if got := *h.CurrentTuning().SpeedPerTick; got != 10 {
		t.Fatalf("SpeedPerTick = %g, want 10", got)
	}

	h.HandleFrame(id, mustEncode(t, proto.Move{DX: 1, Seq: 1}))
	h.Tick()
	h.Resync()
	after := findRecord(t, lastGameState(t, tr), id)
	if math.Abs(float64(after.X-rec.X-10)) > 0.01 {
		t.Fatalf("x = %g, want %g with tuned speed", after.X, rec.X+10)
	}
}
