// Package resolve maps device names to network addresses, amortizing one
// discovery sweep across every lookup of a run.
package resolve

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/agent"
)

// Source records how an address was obtained.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceDiscovery Source = "discovery"
	SourceFallback  Source = "fallback"
)

// ResolvedAddress is the result of one lookup.
type ResolvedAddress struct {
	Device  string
	Address string
	Source  Source
}

// Discoverer is the slice of the Device Agent the resolver needs.
type Discoverer interface {
	Discover(ctx context.Context) ([]agent.Endpoint, error)
}

// Resolver caches one discovery sweep per run. The sweep runs at most once
// no matter how many devices need it; after Prime the cache is read-only, so
// workers share it without further coordination.
type Resolver struct {
	disc Discoverer
	log  zerolog.Logger

	once  sync.Once
	mu    sync.RWMutex
	cache map[string]string
}

func New(disc Discoverer, log zerolog.Logger) *Resolver {
	return &Resolver{
		disc:  disc,
		log:   log,
		cache: make(map[string]string),
	}
}

// Prime runs the discovery sweep now if it has not run yet. The executor
// calls this before spawning workers so parallel tasks only read the cache.
func (r *Resolver) Prime(ctx context.Context) {
	r.once.Do(func() { r.sweep(ctx) })
}

func (r *Resolver) sweep(ctx context.Context) {
	endpoints, err := r.disc.Discover(ctx)
	if err != nil {
		// A failed sweep degrades every lookup to fallback; it is not fatal
		// to the run.
		r.log.Warn().Err(err).Msg("discovery sweep failed; falling back to device names")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range endpoints {
		r.cache[ep.Name] = ep.Address
	}
	r.log.Debug().Int("cached", len(r.cache)).Msg("discovery cache populated")
}

// Resolve returns the address for a device. A non-empty explicit address wins
// outright; otherwise the discovery cache is consulted, and a miss falls back
// to the device name itself with a warning.
func (r *Resolver) Resolve(ctx context.Context, device, explicit string) ResolvedAddress {
	if explicit != "" {
		return ResolvedAddress{Device: device, Address: explicit, Source: SourceExplicit}
	}

	r.once.Do(func() { r.sweep(ctx) })

	r.mu.RLock()
	addr, ok := r.cache[device]
	r.mu.RUnlock()
	if ok {
		return ResolvedAddress{Device: device, Address: addr, Source: SourceDiscovery}
	}

	r.log.Warn().Str("device", device).Msg("device not found by discovery; using its name as address")
	return ResolvedAddress{Device: device, Address: device, Source: SourceFallback}
}
