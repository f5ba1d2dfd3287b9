package ndp

import (
	"time"

	"go.uber.org/multierr"
)

// Config holds every user-facing NDP timing and retry knob (spec §4.9).
// Zero-value durations/counts are invalid: use DefaultConfig as a base.
type Config struct {
	// StaleTimeout is validated and normalized like the other knobs but is
	// not read by the engine: STALE entries have no expiry timer, and cache
	// eviction (neighborCache.evictOne) does not consider how long an entry
	// has been STALE.
	StaleTimeout time.Duration
	// ReachableTimeout is the REACHABLE -> STALE expiry (RFC 4861
	// §6.3.4's base reachable time before randomization).
	ReachableTimeout time.Duration
	// DelayFirstProbeTimeout is the DELAY -> PROBE expiry.
	DelayFirstProbeTimeout time.Duration
	// RetransmitTimeout is the interval between NS retransmissions in
	// INCOMPLETE and PROBE.
	RetransmitTimeout time.Duration
	// MaxMulticastSolicitations bounds retries while INCOMPLETE.
	MaxMulticastSolicitations int
	// MaxUnicastSolicitations bounds retries while PROBE.
	MaxUnicastSolicitations int
	// MaxDADSolicitations bounds DAD probes; 0 disables DAD (any address
	// is immediately unique).
	MaxDADSolicitations int
	// PerEntryQueueCap bounds the number of deferred transmit buffers
	// held per neighbor cache entry.
	PerEntryQueueCap int
	// NeighborCacheSize bounds the number of entries C1 may hold before
	// reclamation/PoolFull kicks in.
	NeighborCacheSize int
}

// DefaultConfig returns the knob defaults from spec §4.9.
func DefaultConfig() Config {
	return Config{
		StaleTimeout:              10 * time.Minute,
		ReachableTimeout:          30 * time.Second,
		DelayFirstProbeTimeout:    3 * time.Second,
		RetransmitTimeout:         time.Second,
		MaxMulticastSolicitations: 3,
		MaxUnicastSolicitations:   3,
		MaxDADSolicitations:       3,
		PerEntryQueueCap:          2,
		NeighborCacheSize:         512,
	}
}

type knobRange struct {
	name     string
	min, max time.Duration
	val      time.Duration
}

type intKnobRange struct {
	name     string
	min, max int
	val      int
}

// Validate checks every knob against its documented [min, max] range (spec
// §4.9) and returns a combined error naming every violation, not just the
// first — config.go uses go.uber.org/multierr for this so an operator fixing
// a config file sees every offending knob in one report instead of playing
// whack-a-mole one validation error at a time.
func (c Config) Validate() error {
	var err error
	for _, k := range []knobRange{
		{"StaleTimeout", time.Minute, 10 * time.Minute, c.StaleTimeout},
		{"ReachableTimeout", time.Second, 120 * time.Second, c.ReachableTimeout},
		{"DelayFirstProbeTimeout", time.Second, 10 * time.Second, c.DelayFirstProbeTimeout},
		{"RetransmitTimeout", time.Second, 10 * time.Second, c.RetransmitTimeout},
	} {
		if k.val < k.min || k.val > k.max {
			err = multierr.Append(err, errf(ErrInvalidArgument, "%s=%s out of range [%s, %s]", k.name, k.val, k.min, k.max))
		}
	}
	for _, k := range []intKnobRange{
		{"MaxMulticastSolicitations", 0, 5, c.MaxMulticastSolicitations},
		{"MaxUnicastSolicitations", 0, 5, c.MaxUnicastSolicitations},
		{"MaxDADSolicitations", 0, 5, c.MaxDADSolicitations},
		{"PerEntryQueueCap", 0, c.NeighborCacheSize, c.PerEntryQueueCap},
	} {
		if k.val < k.min || k.val > k.max {
			err = multierr.Append(err, errf(ErrInvalidArgument, "%s=%d out of range [%d, %d]", k.name, k.val, k.min, k.max))
		}
	}
	if c.NeighborCacheSize <= 0 {
		err = multierr.Append(err, errf(ErrInvalidArgument, "NeighborCacheSize must be positive, got %d", c.NeighborCacheSize))
	}
	return err
}

// Normalize returns a copy of c with every out-of-range knob forced back to
// its default, for callers that would rather silently recover than reject a
// bad configuration outright — this mirrors the original C engine's
// documented behavior ("if c contains invalid NDP configuration values, it
// will be fixed to use default values for the erroneous values").
func (c Config) Normalize() Config {
	d := DefaultConfig()
	clampDuration := func(v, lo, hi, def time.Duration) time.Duration {
		if v < lo || v > hi {
			return def
		}
		return v
	}
	clampInt := func(v, lo, hi, def int) int {
		if v < lo || v > hi {
			return def
		}
		return v
	}
	c.StaleTimeout = clampDuration(c.StaleTimeout, time.Minute, 10*time.Minute, d.StaleTimeout)
	c.ReachableTimeout = clampDuration(c.ReachableTimeout, time.Second, 120*time.Second, d.ReachableTimeout)
	c.DelayFirstProbeTimeout = clampDuration(c.DelayFirstProbeTimeout, time.Second, 10*time.Second, d.DelayFirstProbeTimeout)
	c.RetransmitTimeout = clampDuration(c.RetransmitTimeout, time.Second, 10*time.Second, d.RetransmitTimeout)
	c.MaxMulticastSolicitations = clampInt(c.MaxMulticastSolicitations, 0, 5, d.MaxMulticastSolicitations)
	c.MaxUnicastSolicitations = clampInt(c.MaxUnicastSolicitations, 0, 5, d.MaxUnicastSolicitations)
	c.MaxDADSolicitations = clampInt(c.MaxDADSolicitations, 0, 5, d.MaxDADSolicitations)
	if c.NeighborCacheSize <= 0 {
		c.NeighborCacheSize = d.NeighborCacheSize
	}
	c.PerEntryQueueCap = clampInt(c.PerEntryQueueCap, 0, c.NeighborCacheSize, d.PerEntryQueueCap)
	return c
}
