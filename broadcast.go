package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"farfield/server/internal/proto"
)

// Priority orders queued broadcasts. The queue capacity is a hard bound for
// low-priority traffic and an advisory one for everything else.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Transport is the send side of one connection. Send must not block the
// caller indefinitely; implementations buffer and drop instead.
type Transport interface {
	Send(payload []byte) error
	Close()
}

// transportLookup resolves an entity id to its live transport. Unknown ids
// are normal: disconnects never scrub the queue, stale targets are skipped
// here at flush time.
type transportLookup interface {
	Transport(id uint32) (Transport, bool)
}

type queuedBroadcast struct {
	payload     []byte
	targets     []uint32
	priority    Priority
	enqueueTime time.Time
	deferred    bool
}

// encodeCache memoizes encoded frames by a content-derived key. Eviction is
// insertion-order (oldest inserted leaves first), not LRU: a hit does not
// refresh an entry's position.
type encodeCache struct {
	capacity int
	entries  map[string][]byte
	order    []string
}

func newEncodeCache(capacity int) *encodeCache {
	return &encodeCache{
		capacity: capacity,
		entries:  make(map[string][]byte, capacity),
	}
}

func (c *encodeCache) get(key string) ([]byte, bool) {
	payload, ok := c.entries[key]
	return payload, ok
}

func (c *encodeCache) put(key string, payload []byte) {
	if c.capacity <= 0 {
		return
	}
	if _, ok := c.entries[key]; ok {
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = payload
	c.order = append(c.order, key)
}

// Broadcaster turns logical game events plus target sets into delivered wire
// bytes: encode once, queue by priority, flush in bounded batches with a
// per-connection send cap. High-value events can bypass the queue entirely
// through SendNow. No internal locking; the hub serializes callers.
type Broadcaster struct {
	cfg       BroadcastConfig
	conns     transportLookup
	telemetry *Telemetry
	logger    *zap.SugaredLogger
	cache     *encodeCache

	high   []*queuedBroadcast
	normal []*queuedBroadcast
	low    []*queuedBroadcast
}

// NewBroadcaster wires the fan-out manager to a connection lookup.
func NewBroadcaster(cfg BroadcastConfig, conns transportLookup, telemetry *Telemetry, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		cfg:       cfg,
		conns:     conns,
		telemetry: telemetry,
		logger:    logger,
		cache:     newEncodeCache(cfg.CacheCapacity),
	}
}

// SetFlushBatch applies a hot-tuned flush batch size.
func (b *Broadcaster) SetFlushBatch(batch int) {
	if batch > 0 {
		b.cfg.FlushBatch = batch
	}
}

// SetPerConnCap applies a hot-tuned per-connection send cap.
func (b *Broadcaster) SetPerConnCap(limit int) {
	if limit > 0 {
		b.cfg.PerConnCap = limit
	}
}

// cacheKey derives a stable content key from the message's semantic fields.
// Hot movement deltas repeat often enough for this to pay for itself.
func cacheKey(msg proto.Message) string {
	return fmt.Sprintf("%02x:%+v", byte(msg.Tag()), msg)
}

func (b *Broadcaster) encodeCached(msg proto.Message) ([]byte, error) {
	key := cacheKey(msg)
	if payload, ok := b.cache.get(key); ok {
		b.telemetry.IncCacheHit()
		return payload, nil
	}
	b.telemetry.IncCacheMiss()
	payload, err := proto.Encode(msg)
	if err != nil {
		return nil, err
	}
	b.cache.put(key, payload)
	return payload, nil
}

// Publish encodes the event and queues it for the next flush. Empty target
// sets are discarded before encoding.
func (b *Broadcaster) Publish(msg proto.Message, targets []uint32, priority Priority) error {
	if len(targets) == 0 {
		return nil
	}
	payload, err := b.encodeCached(msg)
	if err != nil {
		return err
	}
	b.enqueue(&queuedBroadcast{
		payload:     payload,
		targets:     targets,
		priority:    priority,
		enqueueTime: time.Now(),
	})
	return nil
}

// SendNow encodes and delivers immediately, bypassing the queue. Used for
// latency-sensitive events (join, leave, attack) and direct replies (welcome,
// ack, correction). A failed or unknown target never stops the rest.
func (b *Broadcaster) SendNow(msg proto.Message, targets []uint32) error {
	if len(targets) == 0 {
		return nil
	}
	payload, err := b.encodeCached(msg)
	if err != nil {
		return err
	}
	for _, id := range targets {
		b.deliver(id, payload)
	}
	return nil
}

// Flush drains up to the configured batch from the queue in priority order,
// delivering at most PerConnCap messages per connection. A connection's
// excess is re-queued once with the deferred mark, then dropped if it is
// still over budget on the next flush.
func (b *Broadcaster) Flush() {
	perConn := make(map[uint32]int)
	var requeue []*queuedBroadcast

	for drained := 0; drained < b.cfg.FlushBatch; drained++ {
		item := b.pop()
		if item == nil {
			break
		}

		var overBudget []uint32
		for _, id := range item.targets {
			if perConn[id] >= b.cfg.PerConnCap {
				overBudget = append(overBudget, id)
				continue
			}
			if b.deliver(id, item.payload) {
				perConn[id]++
			}
		}

		if len(overBudget) == 0 {
			continue
		}
		if item.deferred {
			b.telemetry.IncDeferredDrop()
			continue
		}
		b.telemetry.IncDeferredSend()
		requeue = append(requeue, &queuedBroadcast{
			payload:     item.payload,
			targets:     overBudget,
			priority:    item.priority,
			enqueueTime: item.enqueueTime,
			deferred:    true,
		})
	}

	// Deferred remainders go to the front of their band so they are first
	// in line next flush. Capacity is not re-checked: they already held a
	// queue slot this flush.
	for i := len(requeue) - 1; i >= 0; i-- {
		b.pushFront(requeue[i])
	}
}

// QueueLen reports the total queued broadcast count across all bands.
func (b *Broadcaster) QueueLen() int {
	return len(b.high) + len(b.normal) + len(b.low)
}

// deliver sends one payload to one connection, skipping stale targets and
// swallowing transport failures so a bad connection cannot poison a batch.
func (b *Broadcaster) deliver(id uint32, payload []byte) bool {
	transport, ok := b.conns.Transport(id)
	if !ok {
		b.telemetry.IncStaleTarget()
		return false
	}
	if err := transport.Send(payload); err != nil {
		b.telemetry.IncSendFailure()
		if b.logger != nil {
			b.logger.Debugw("send failed", "entity", id, "error", err)
		}
		return false
	}
	b.telemetry.RecordSend(len(payload))
	return true
}

func (b *Broadcaster) enqueue(item *queuedBroadcast) {
	if b.QueueLen() >= b.cfg.QueueCapacity {
		if item.priority == PriorityLow {
			b.telemetry.IncOverflowDrop()
			return
		}
		if len(b.low) > 0 {
			// Make room by evicting the oldest queued low-priority item.
			b.low = b.low[1:]
			b.telemetry.IncOverflowDrop()
		}
		// If no low item exists the queue transiently exceeds its soft
		// bound; the bound is hard only for low priority.
	}
	switch item.priority {
	case PriorityHigh:
		b.high = append(b.high, item)
	case PriorityLow:
		b.low = append(b.low, item)
	default:
		b.normal = append(b.normal, item)
	}
}

func (b *Broadcaster) pushFront(item *queuedBroadcast) {
	switch item.priority {
	case PriorityHigh:
		b.high = append([]*queuedBroadcast{item}, b.high...)
	case PriorityLow:
		b.low = append([]*queuedBroadcast{item}, b.low...)
	default:
		b.normal = append([]*queuedBroadcast{item}, b.normal...)
	}
}

func (b *Broadcaster) pop() *queuedBroadcast {
	if len(b.high) > 0 {
		item := b.high[0]
		b.high = b.high[1:]
		return item
	}
	if len(b.normal) > 0 {
		item := b.normal[0]
		b.normal = b.normal[1:]
		return item
	}
	if len(b.low) > 0 {
		item := b.low[0]
		b.low = b.low[1:]
		return item
	}
	return nil
}
