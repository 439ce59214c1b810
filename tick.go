package server

import "time"

// Run drives the fixed-rate loops until the stop channel closes: the
// simulation tick, the visibility drain, the broadcast flush, and the
// periodic full-state resync. All four are plain wall-clock tickers with no
// catch-up accumulator; when a tick's work overruns its interval the next
// tick fires late and the missed time is never replayed.
func (h *Hub) Run(stop <-chan struct{}) {
	tick := time.NewTicker(time.Second / time.Duration(h.cfg.Server.TickRate))
	defer tick.Stop()
	drain := time.NewTicker(h.cfg.Interest.DrainInterval)
	defer drain.Stop()
	flush := time.NewTicker(h.cfg.Broadcast.FlushInterval)
	defer flush.Stop()
	resync := time.NewTicker(h.cfg.Server.ResyncInterval)
	defer resync.Stop()

	h.logger.Infow("simulation running",
		"tickRate", h.cfg.Server.TickRate,
		"flushInterval", h.cfg.Broadcast.FlushInterval,
		"resyncInterval", h.cfg.Server.ResyncInterval)

	for {
		select {
		case <-stop:
			h.logger.Infow("simulation stopped")
			return
		case <-tick.C:
			h.Tick()
		case <-drain.C:
			h.DrainVisibility()
		case <-flush.C:
			h.FlushBroadcasts()
		case <-resync.C:
			h.Resync()
		}
	}
}
