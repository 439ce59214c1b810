package server

import (
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// Config gathers every tunable the server reads at startup. Values originate
// from compiled defaults, optionally overridden by a farfield.ini file.
type Config struct {
	Server    ServerConfig
	World     WorldConfig
	Interest  InterestConfig
	Broadcast BroadcastConfig
	Limits    LimitConfig
}

type ServerConfig struct {
	Addr           string
	TickRate       int
	ResyncInterval time.Duration
	LogFile        string
}

type WorldConfig struct {
	Width        float64
	Height       float64
	SpawnMinX    float64
	SpawnMinY    float64
	SpawnMaxX    float64
	SpawnMaxY    float64
	SpeedPerTick float64
}

type InterestConfig struct {
	// Default viewport applied until the client reports its own size.
	ViewportWidth  float64
	ViewportHeight float64
	// BufferScale widens the viewport per axis as hysteresis against
	// visibility flapping near the rectangle edge.
	BufferScale   float64
	MoveThreshold float64
	DrainInterval time.Duration
	DrainBatch    int
}

type BroadcastConfig struct {
	QueueCapacity int
	CacheCapacity int
	FlushInterval time.Duration
	FlushBatch    int
	// PerConnCap bounds messages delivered to one connection per flush;
	// this is the backpressure mechanism against slow connections.
	PerConnCap int
}

type LimitConfig struct {
	MessagesPerSecond int
	BurstWindow       time.Duration
	BurstLimit        int
}

// DefaultConfig returns the compiled-in tuning.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			TickRate:       30,
			ResyncInterval: 30 * time.Second,
			LogFile:        "farfield.log",
		},
		World: WorldConfig{
			Width:        2000,
			Height:       2000,
			SpawnMinX:    200,
			SpawnMinY:    200,
			SpawnMaxX:    1800,
			SpawnMaxY:    1800,
			SpeedPerTick: 4,
		},
		Interest: InterestConfig{
			ViewportWidth:  800,
			ViewportHeight: 600,
			BufferScale:    1.25,
			MoveThreshold:  50,
			DrainInterval:  100 * time.Millisecond,
			DrainBatch:     64,
		},
		Broadcast: BroadcastConfig{
			QueueCapacity: 4096,
			CacheCapacity: 512,
			FlushInterval: 16 * time.Millisecond,
			FlushBatch:    512,
			PerConnCap:    32,
		},
		Limits: LimitConfig{
			MessagesPerSecond: 60,
			BurstWindow:       100 * time.Millisecond,
			BurstLimit:        10,
		},
	}
}

// LoadConfig reads overrides from an ini file on top of the defaults.
// A missing key keeps its default; an unreadable file is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := ini.Load(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "load config %s", path)
	}
	for _, sec := range file.Sections() {
		switch strings.ToLower(sec.Name()) {
		case strings.ToLower(ini.DefaultSection):
			// top-level keys are not used
		case "server":
			readServerSection(sec, &cfg.Server)
		case "world":
			readWorldSection(sec, &cfg.World)
		case "interest":
			readInterestSection(sec, &cfg.Interest)
		case "broadcast":
			readBroadcastSection(sec, &cfg.Broadcast)
		case "limits":
			readLimitsSection(sec, &cfg.Limits)
		default:
			return cfg, errors.Errorf("load config %s: unknown section %q", path, sec.Name())
		}
	}
	if err := cfg.validate(); err != nil {
		return cfg, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

func readServerSection(sec *ini.Section, sc *ServerConfig) {
	for _, key := range sec.Keys() {
		switch strings.ToLower(key.Name()) {
		case "addr":
			sc.Addr = key.MustString(sc.Addr)
		case "tick_rate":
			sc.TickRate = key.MustInt(sc.TickRate)
		case "resync_interval_seconds":
			sc.ResyncInterval = time.Duration(key.MustInt(int(sc.ResyncInterval/time.Second))) * time.Second
		case "log_file":
			sc.LogFile = key.MustString(sc.LogFile)
		}
	}
}

func readWorldSection(sec *ini.Section, wc *WorldConfig) {
	for _, key := range sec.Keys() {
		switch strings.ToLower(key.Name()) {
		case "width":
			wc.Width = key.MustFloat64(wc.Width)
		case "height":
			wc.Height = key.MustFloat64(wc.Height)
		case "spawn_min_x":
			wc.SpawnMinX = key.MustFloat64(wc.SpawnMinX)
		case "spawn_min_y":
			wc.SpawnMinY = key.MustFloat64(wc.SpawnMinY)
		case "spawn_max_x":
			wc.SpawnMaxX = key.MustFloat64(wc.SpawnMaxX)
		case "spawn_max_y":
			wc.SpawnMaxY = key.MustFloat64(wc.SpawnMaxY)
		case "speed_per_tick":
			wc.SpeedPerTick = key.MustFloat64(wc.SpeedPerTick)
		}
	}
}

func readInterestSection(sec *ini.Section, ic *InterestConfig) {
	for _, key := range sec.Keys() {
		switch strings.ToLower(key.Name()) {
		case "viewport_width":
			ic.ViewportWidth = key.MustFloat64(ic.ViewportWidth)
		case "viewport_height":
			ic.ViewportHeight = key.MustFloat64(ic.ViewportHeight)
		case "buffer_scale":
			ic.BufferScale = key.MustFloat64(ic.BufferScale)
		case "move_threshold":
			ic.MoveThreshold = key.MustFloat64(ic.MoveThreshold)
		case "drain_interval_ms":
			ic.DrainInterval = time.Duration(key.MustInt(int(ic.DrainInterval/time.Millisecond))) * time.Millisecond
		case "drain_batch":
			ic.DrainBatch = key.MustInt(ic.DrainBatch)
		}
	}
}

func readBroadcastSection(sec *ini.Section, bc *BroadcastConfig) {
	for _, key := range sec.Keys() {
		switch strings.ToLower(key.Name()) {
		case "queue_capacity":
			bc.QueueCapacity = key.MustInt(bc.QueueCapacity)
		case "cache_capacity":
			bc.CacheCapacity = key.MustInt(bc.CacheCapacity)
		case "flush_interval_ms":
			bc.FlushInterval = time.Duration(key.MustInt(int(bc.FlushInterval/time.Millisecond))) * time.Millisecond
		case "flush_batch":
			bc.FlushBatch = key.MustInt(bc.FlushBatch)
		case "per_conn_cap":
			bc.PerConnCap = key.MustInt(bc.PerConnCap)
		}
	}
}

func readLimitsSection(sec *ini.Section, lc *LimitConfig) {
	for _, key := range sec.Keys() {
		switch strings.ToLower(key.Name()) {
		case "messages_per_second":
			lc.MessagesPerSecond = key.MustInt(lc.MessagesPerSecond)
		case "burst_window_ms":
			lc.BurstWindow = time.Duration(key.MustInt(int(lc.BurstWindow/time.Millisecond))) * time.Millisecond
		case "burst_limit":
			lc.BurstLimit = key.MustInt(lc.BurstLimit)
		}
	}
}

func (c Config) validate() error {
	if c.Server.TickRate <= 0 {
		return errors.New("tick_rate must be positive")
	}
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return errors.New("world dimensions must be positive")
	}
	if c.World.SpawnMinX > c.World.SpawnMaxX || c.World.SpawnMinY > c.World.SpawnMaxY {
		return errors.New("spawn rectangle is inverted")
	}
	if c.World.SpawnMaxX > c.World.Width || c.World.SpawnMaxY > c.World.Height {
		return errors.New("spawn rectangle exceeds world bounds")
	}
	if c.Interest.BufferScale < 1 {
		return errors.New("buffer_scale must be at least 1")
	}
	if c.Broadcast.QueueCapacity <= 0 || c.Broadcast.FlushBatch <= 0 || c.Broadcast.PerConnCap <= 0 {
		return errors.New("broadcast capacities must be positive")
	}
	if c.Limits.MessagesPerSecond <= 0 || c.Limits.BurstLimit <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}

// Tuning is the hot-adjustable subset of Config accepted by /admin/tuning.
// Nil fields are left unchanged.
type Tuning struct {
	SpeedPerTick      *float64 `json:"speedPerTick,omitempty"`
	FlushBatch        *int     `json:"flushBatch,omitempty"`
	PerConnCap        *int     `json:"perConnCap,omitempty"`
	MessagesPerSecond *int     `json:"messagesPerSecond,omitempty"`
	BurstLimit        *int     `json:"burstLimit,omitempty"`
}
