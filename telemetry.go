package server

import (
	"sync/atomic"
	"time"
)

// Telemetry tracks runtime counters for the diagnostics endpoint. Counters
// are atomic so the HTTP handler can read them without touching the hub lock.
type Telemetry struct {
	framesIn             atomic.Uint64
	framesOut            atomic.Uint64
	bytesOut             atomic.Uint64
	malformedFrames      atomic.Uint64
	rateLimited          atomic.Uint64
	staleInputs          atomic.Uint64
	corrections          atomic.Uint64
	queueOverflowDrops   atomic.Uint64
	deferredSends        atomic.Uint64
	deferredDrops        atomic.Uint64
	staleTargetsSkipped  atomic.Uint64
	sendFailures         atomic.Uint64
	cacheHits            atomic.Uint64
	cacheMisses          atomic.Uint64
	visibilityRecomputes atomic.Uint64
	ticks                atomic.Uint64
	tickPanics           atomic.Uint64
	lastTickMicros       atomic.Int64
	resyncs              atomic.Uint64
}

// TelemetrySnapshot is the JSON document served at /diagnostics.
type TelemetrySnapshot struct {
	FramesIn             uint64 `json:"framesIn"`
	FramesOut            uint64 `json:"framesOut"`
	BytesOut             uint64 `json:"bytesOut"`
	MalformedFrames      uint64 `json:"malformedFrames"`
	RateLimited          uint64 `json:"rateLimited"`
	StaleInputs          uint64 `json:"staleInputs"`
	Corrections          uint64 `json:"corrections"`
	QueueOverflowDrops   uint64 `json:"queueOverflowDrops"`
	DeferredSends        uint64 `json:"deferredSends"`
	DeferredDrops        uint64 `json:"deferredDrops"`
	StaleTargetsSkipped  uint64 `json:"staleTargetsSkipped"`
	SendFailures         uint64 `json:"sendFailures"`
	CacheHits            uint64 `json:"cacheHits"`
	CacheMisses          uint64 `json:"cacheMisses"`
	VisibilityRecomputes uint64 `json:"visibilityRecomputes"`
	Ticks                uint64 `json:"ticks"`
	TickPanics           uint64 `json:"tickPanics"`
	LastTickMicros       int64  `json:"lastTickMicros"`
	Resyncs              uint64 `json:"resyncs"`
}

func NewTelemetry() *Telemetry { return &Telemetry{} }

func (t *Telemetry) IncFramesIn()        { t.framesIn.Add(1) }
func (t *Telemetry) IncMalformed()       { t.malformedFrames.Add(1) }
func (t *Telemetry) IncRateLimited()     { t.rateLimited.Add(1) }
func (t *Telemetry) IncStaleInput()      { t.staleInputs.Add(1) }
func (t *Telemetry) IncCorrection()      { t.corrections.Add(1) }
func (t *Telemetry) IncOverflowDrop()    { t.queueOverflowDrops.Add(1) }
func (t *Telemetry) IncDeferredSend()    { t.deferredSends.Add(1) }
func (t *Telemetry) IncDeferredDrop()    { t.deferredDrops.Add(1) }
func (t *Telemetry) IncStaleTarget()     { t.staleTargetsSkipped.Add(1) }
func (t *Telemetry) IncSendFailure()     { t.sendFailures.Add(1) }
func (t *Telemetry) IncCacheHit()        { t.cacheHits.Add(1) }
func (t *Telemetry) IncCacheMiss()       { t.cacheMisses.Add(1) }
func (t *Telemetry) IncTickPanic()       { t.tickPanics.Add(1) }
func (t *Telemetry) IncResync()          { t.resyncs.Add(1) }

func (t *Telemetry) AddVisibilityRecomputes(n int) {
	if n > 0 {
		t.visibilityRecomputes.Add(uint64(n))
	}
}

func (t *Telemetry) RecordSend(bytes int) {
	t.framesOut.Add(1)
	if bytes > 0 {
		t.bytesOut.Add(uint64(bytes))
	}
}

func (t *Telemetry) RecordTick(duration time.Duration) {
	t.ticks.Add(1)
	micros := duration.Microseconds()
	if micros < 0 {
		micros = 0
	}
	t.lastTickMicros.Store(micros)
}

// Snapshot returns a point-in-time copy of every counter.
func (t *Telemetry) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		FramesIn:             t.framesIn.Load(),
		FramesOut:            t.framesOut.Load(),
		BytesOut:             t.bytesOut.Load(),
		MalformedFrames:      t.malformedFrames.Load(),
		RateLimited:          t.rateLimited.Load(),
		StaleInputs:          t.staleInputs.Load(),
		Corrections:          t.corrections.Load(),
		QueueOverflowDrops:   t.queueOverflowDrops.Load(),
		DeferredSends:        t.deferredSends.Load(),
		DeferredDrops:        t.deferredDrops.Load(),
		StaleTargetsSkipped:  t.staleTargetsSkipped.Load(),
		SendFailures:         t.sendFailures.Load(),
		CacheHits:            t.cacheHits.Load(),
		CacheMisses:          t.cacheMisses.Load(),
		VisibilityRecomputes: t.visibilityRecomputes.Load(),
		Ticks:                t.ticks.Load(),
		TickPanics:           t.tickPanics.Load(),
		LastTickMicros:       t.lastTickMicros.Load(),
		Resyncs:              t.resyncs.Load(),
	}
}
