// Package cache implements the cache and eviction subsystem (spec
// component C7): a fixed memory budget tracked by page class, background
// eviction workers that walk trees via normalized position, hazard
// pointers protecting concurrent readers, and cooperative backpressure on
// application threads when the budget is exceeded.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wtstore/wtstore/internal/stats"
	"github.com/wtstore/wtstore/internal/wtlog"
)

var log = wtlog.WithComponent("cache")

// Budget holds the memory-budget thresholds spec.md §4.7 names.
type Budget struct {
	CacheSizeBytes    int64
	EvictionTarget    float64 // soft threshold, fraction of CacheSizeBytes
	EvictionTrigger   float64 // hard threshold; callers block until below this
	DirtyTarget       float64
	DirtyTrigger      float64
	ThreadsMin        int
	ThreadsMax        int
}

// DefaultBudget matches WiredTiger's stock defaults.
func DefaultBudget(cacheSizeBytes int64) Budget {
	return Budget{
		CacheSizeBytes:  cacheSizeBytes,
		EvictionTarget:  0.80,
		EvictionTrigger: 0.95,
		DirtyTarget:     0.05,
		DirtyTrigger:    0.20,
		ThreadsMin:      4,
		ThreadsMax:      8,
	}
}

// Manager owns the budget counters, hazard table, and eviction pool for
// one connection's cache.
type Manager struct {
	budget Budget
	hazard *HazardTable
	pool   *EvictionPool

	internalBytes int64
	leafBytes     int64
	overflowBytes int64
	dirtyBytes    int64

	running int32
}

// Reconciler is the callback eviction workers invoke on a candidate page;
// it returns whether the page was freed (clean reconciliation released
// its memory) versus retained (it stays resident, now clean).
type Reconciler func(ref Ref) (freed bool, err error)

// NewManager builds a cache manager; Start begins the background walk.
func NewManager(budget Budget) *Manager {
	return &Manager{
		budget: budget,
		hazard: NewHazardTable(),
		pool:   NewEvictionPool(budget.ThreadsMax, 2*time.Second),
	}
}

// Hazard exposes the hazard-pointer table for cursors to register claims
// against before dereferencing a page.
func (m *Manager) Hazard() *HazardTable { return m.hazard }

// AccountAlloc/AccountFree adjust the per-class byte counters (spec.md
// §4.7's three budget counters plus dirty bytes) and publish them to the
// stats gauges.
func (m *Manager) AccountAlloc(class string, n int64, dirty bool) {
	switch class {
	case "internal":
		atomic.AddInt64(&m.internalBytes, n)
	case "leaf":
		atomic.AddInt64(&m.leafBytes, n)
	case "overflow":
		atomic.AddInt64(&m.overflowBytes, n)
	}
	if dirty {
		atomic.AddInt64(&m.dirtyBytes, n)
	}
	m.publish(class)
}

func (m *Manager) AccountFree(class string, n int64, dirty bool) {
	m.AccountAlloc(class, -n, dirty)
}

func (m *Manager) publish(class string) {
	var v int64
	switch class {
	case "internal":
		v = atomic.LoadInt64(&m.internalBytes)
	case "leaf":
		v = atomic.LoadInt64(&m.leafBytes)
	case "overflow":
		v = atomic.LoadInt64(&m.overflowBytes)
	}
	stats.CacheBytes.WithLabelValues(class).Set(float64(v))
	stats.CacheDirtyBytes.Set(float64(atomic.LoadInt64(&m.dirtyBytes)))
}

// TotalBytes returns current total cache occupancy across all classes.
func (m *Manager) TotalBytes() int64 {
	return atomic.LoadInt64(&m.internalBytes) + atomic.LoadInt64(&m.leafBytes) + atomic.LoadInt64(&m.overflowBytes)
}

// OverTrigger reports whether the cache is at or above eviction_trigger,
// the hard threshold application threads must block against.
func (m *Manager) OverTrigger() bool {
	return float64(m.TotalBytes()) >= m.budget.EvictionTrigger*float64(m.budget.CacheSizeBytes)
}

// OverTarget reports whether the cache is at or above eviction_target,
// the soft threshold that keeps background workers busy.
func (m *Manager) OverTarget() bool {
	return float64(m.TotalBytes()) >= m.budget.EvictionTarget*float64(m.budget.CacheSizeBytes)
}

// AssistOneEviction implements cooperative backpressure (spec.md §4.7):
// when over trigger, an application thread is enlisted to reconcile one
// candidate itself before its own operation proceeds.
func (m *Manager) AssistOneEviction(tree Tree, reconcile Reconciler) error {
	if !m.OverTrigger() {
		return nil
	}
	ref, err := FromNpos(tree, randNpos(), true)
	if err != nil {
		return nil // nothing resident to help with; let the caller proceed
	}
	if !m.hazard.CanFree(ref) {
		return nil
	}
	_, err = reconcile(ref)
	stats.EvictionPagesTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return err
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "evicted"
}

// randNpos is a process-local pseudo-random normalized position for the
// eviction walk's starting point, distinct per call so concurrent workers
// naturally diversify across the tree rather than colliding on one spot.
var nposCounter uint64

func randNpos() float64 {
	// A cheap, deterministic-enough spread: golden-ratio increments over
	// [0,1), the classic low-discrepancy sequence, avoiding a dependency
	// on math/rand's global lock under heavy worker contention.
	n := atomic.AddUint64(&nposCounter, 1)
	const golden = 0.6180339887498949
	f := float64(n) * golden
	return f - float64(int64(f))
}

// Start begins the supervisor loop that keeps the eviction queue full by
// walking tree via normalized position while over eviction_target.
func (m *Manager) Start(ctx context.Context, tree Tree, reconcile Reconciler) {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return
	}
	go m.walkLoop(ctx, tree, reconcile)
}

func (m *Manager) walkLoop(ctx context.Context, tree Tree, reconcile Reconciler) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&m.running, 0)
			return
		case <-ticker.C:
			if !m.OverTarget() {
				continue
			}
			ref, err := FromNpos(tree, randNpos(), true)
			if err != nil {
				continue
			}
			m.pool.Submit(func() {
				if !m.hazard.CanFree(ref) {
					return
				}
				_, err := reconcile(ref)
				stats.EvictionPagesTotal.WithLabelValues(outcomeLabel(err)).Inc()
				stats.EvictionQueueDepth.Set(0) // this simplified walk has no queue depth beyond the one task submitted
			})
		}
	}
}

// Stop shuts down the eviction pool. Callers must cancel the Start
// context first so the walk loop stops submitting new work.
func (m *Manager) Stop() { m.pool.Stop() }
