// Package oracle adapts the external anchor-rate publisher for the pool
// engine. Origination paths demand a fresh reading and fail closed;
// settlement paths fall back to a bounded constant so users can always exit.
package oracle

import (
	"errors"
	"log/slog"
	"sync"

	"bondmm/events"
	"bondmm/fixedpoint"
	"bondmm/observability"
)

var (
	ErrStale           = errors.New("oracle: anchor rate is stale")
	ErrNoSource        = errors.New("oracle: rate source not configured")
	ErrFallbackTooHigh = errors.New("oracle: fallback rate above cap")
)

// MaxFallbackRate caps the administratively configured fallback at 20%.
var MaxFallbackRate = fixedpoint.MustFromDecimal("0.20")

// RateSource is the upstream anchor-rate publisher, typically a TWAP feed.
// Staleness is determined by the source's own policy.
type RateSource interface {
	GetRate() (fixedpoint.Dec, error)
	IsStale() bool
}

// Adapter wraps a RateSource with the fail-closed/fail-open split the pool
// engine relies on.
type Adapter struct {
	mu       sync.RWMutex
	source   RateSource
	fallback fixedpoint.Dec
	emitter  events.Emitter
	logger   *slog.Logger
}

// NewAdapter constructs an adapter around the given source with the supplied
// fallback rate.
func NewAdapter(source RateSource, fallback fixedpoint.Dec) (*Adapter, error) {
	if fallback.Gt(MaxFallbackRate) {
		return nil, ErrFallbackTooHigh
	}
	return &Adapter{
		source:   source,
		fallback: fallback,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
	}, nil
}

// SetEmitter wires the event sink used when the fallback engages.
func (a *Adapter) SetEmitter(emitter events.Emitter) {
	if a == nil || emitter == nil {
		return
	}
	a.mu.Lock()
	a.emitter = emitter
	a.mu.Unlock()
}

// SetLogger replaces the adapter's logger.
func (a *Adapter) SetLogger(logger *slog.Logger) {
	if a == nil || logger == nil {
		return
	}
	a.mu.Lock()
	a.logger = logger
	a.mu.Unlock()
}

// SetSource swaps the upstream rate source.
func (a *Adapter) SetSource(source RateSource) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.source = source
	a.mu.Unlock()
}

// SetFallbackRate updates the bounded fallback constant.
func (a *Adapter) SetFallbackRate(rate fixedpoint.Dec) error {
	if a == nil {
		return ErrNoSource
	}
	if rate.Gt(MaxFallbackRate) {
		return ErrFallbackTooHigh
	}
	a.mu.Lock()
	a.fallback = rate
	a.mu.Unlock()
	return nil
}

// FallbackRate returns the configured fallback constant.
func (a *Adapter) FallbackRate() fixedpoint.Dec {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fallback
}

// Stale reports whether the upstream source currently fails its freshness
// policy. A missing source counts as stale.
func (a *Adapter) Stale() bool {
	a.mu.RLock()
	source := a.source
	a.mu.RUnlock()
	if source == nil {
		return true
	}
	return source.IsStale()
}

// CurrentRate returns the fresh anchor rate or fails with ErrStale. Used by
// origination paths, which must not quote on stale data.
func (a *Adapter) CurrentRate() (fixedpoint.Dec, error) {
	a.mu.RLock()
	source := a.source
	a.mu.RUnlock()
	if source == nil {
		return fixedpoint.Dec{}, ErrNoSource
	}
	if source.IsStale() {
		return fixedpoint.Dec{}, ErrStale
	}
	return source.GetRate()
}

// SafeRate returns the fresh anchor rate when available and otherwise the
// configured fallback, recording the substitution. Used by settlement paths
// that must not be blocked by a feed outage.
func (a *Adapter) SafeRate() (fixedpoint.Dec, error) {
	a.mu.RLock()
	source := a.source
	fallback := a.fallback
	emitter := a.emitter
	logger := a.logger
	a.mu.RUnlock()

	if source != nil && !source.IsStale() {
		return source.GetRate()
	}

	observability.PoolMetrics().OracleFallback()
	if logger != nil {
		logger.Warn("anchor rate stale, using fallback", "fallbackRate", fallback.String())
	}
	if emitter != nil {
		emitter.Emit(events.FallbackRateUsed{Fallback: fallback})
	}
	return fallback, nil
}

// StaticSource is a RateSource pinned to a fixed rate and staleness flag.
// Tests and local deployments use it in place of a live TWAP feed.
type StaticSource struct {
	mu    sync.RWMutex
	rate  fixedpoint.Dec
	stale bool
}

// NewStaticSource returns a fresh source reporting the given rate.
func NewStaticSource(rate fixedpoint.Dec) *StaticSource {
	return &StaticSource{rate: rate}
}

// SetRate updates the published rate.
func (s *StaticSource) SetRate(rate fixedpoint.Dec) {
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
}

// SetStale toggles the staleness flag.
func (s *StaticSource) SetStale(stale bool) {
	s.mu.Lock()
	s.stale = stale
	s.mu.Unlock()
}

// GetRate implements the RateSource interface.
func (s *StaticSource) GetRate() (fixedpoint.Dec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate, nil
}

// IsStale implements the RateSource interface.
func (s *StaticSource) IsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}
