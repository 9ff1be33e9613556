// Package registry interns Virtual Readers by media id so consecutive HTTP
// range requests for the same media share one reader and its leases.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/relaystream/core/internal/catalog"
	"github.com/relaystream/core/internal/fetch"
	"github.com/relaystream/core/internal/sessionpool"
	"github.com/relaystream/core/internal/slogutil"
	"github.com/relaystream/core/internal/vreader"
)

// ReaderTTL is the idle duration after which a persistent Reader with no
// active ranges is released by Sweep.
const ReaderTTL = 60 * time.Second

type entry struct {
	reader    *vreader.Reader
	lastTouch time.Time
}

// Registry maps media id to ReaderEntry, per §4.5.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry

	catalog *catalog.Store
	pool    *sessionpool.Pool
	engine  *fetch.Engine

	log interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
	}
}

// New builds an empty Registry.
func New(store *catalog.Store, pool *sessionpool.Pool, engine *fetch.Engine) *Registry {
	return &Registry{
		entries: make(map[int64]*entry),
		catalog: store,
		pool:    pool,
		engine:  engine,
		log:     slogutil.With("registry"),
	}
}

// GetOrCreate returns the interned Reader for mediaID, creating it from the
// catalog on a miss. Returns catalog.ErrNotFound if the media has no parts.
func (reg *Registry) GetOrCreate(ctx context.Context, mediaID int64, persistent bool) (*vreader.Reader, error) {
	reg.mu.Lock()
	if e, ok := reg.entries[mediaID]; ok {
		e.lastTouch = time.Now()
		reg.log.Debug("reusing cached reader", "media_id", mediaID, "lease_count", e.reader.LeaseCount())
		reader := e.reader
		reg.mu.Unlock()
		return reader, nil
	}
	reg.mu.Unlock()

	media, err := reg.catalog.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	reader := vreader.New(reg.pool, reg.engine, media, persistent)

	if persistent {
		reg.mu.Lock()
		reg.entries[mediaID] = &entry{reader: reader, lastTouch: time.Now()}
		reg.mu.Unlock()
		reg.log.Info("created persistent reader", "media_id", mediaID)
	}

	return reader, nil
}

// Release force-releases and removes mediaID's ReaderEntry even if ranges
// are currently active on it.
func (reg *Registry) Release(mediaID int64) {
	reg.mu.Lock()
	e, ok := reg.entries[mediaID]
	if ok {
		delete(reg.entries, mediaID)
	}
	reg.mu.Unlock()

	if !ok {
		return
	}
	active := e.reader.ActiveRanges()
	e.reader.ForceRelease()
	reg.log.Info("force-released reader", "media_id", mediaID, "active_ranges_at_release", active)
}

// Sweep releases every entry idle for longer than ReaderTTL with zero
// active ranges. Intended to run on a periodic ticker.
func (reg *Registry) Sweep() {
	now := time.Now()

	reg.mu.Lock()
	var stale []int64
	for mediaID, e := range reg.entries {
		if now.Sub(e.lastTouch) > ReaderTTL && e.reader.ActiveRanges() == 0 {
			stale = append(stale, mediaID)
		}
	}
	reg.mu.Unlock()

	for _, mediaID := range stale {
		reg.Release(mediaID)
	}
}

// SweepLoop runs Sweep on a ticker until ctx is cancelled.
func (reg *Registry) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.Sweep()
		}
	}
}

// Shutdown force-releases every entry.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	ids := make([]int64, 0, len(reg.entries))
	for id := range reg.entries {
		ids = append(ids, id)
	}
	reg.mu.Unlock()

	for _, id := range ids {
		reg.Release(id)
	}
}
