// Package checkpoint implements the five-step durable-point-in-time
// protocol spec.md §4.10 describes (component C10): pin, select,
// sync-reconcile, resolve, release.
//
// Grounded on the teacher's filodb_storage.go masterLoad/masterStore
// two-phase-fsync pattern (write the new root/avail state, fsync,
// only then swap the pointer that makes it durable) generalized from
// FiloDB's single master page per file to one Metadata record per open
// tree, and on filodb_transactions.go's ReaderList-based "snapshot the
// active set before doing the durable work" shape for step 1's pin.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/wtstore/wtstore/internal/addr"
	"github.com/wtstore/wtstore/internal/block"
	"github.com/wtstore/wtstore/internal/page"
	"github.com/wtstore/wtstore/internal/reconcile"
	"github.com/wtstore/wtstore/internal/txn"
)

// Handle is one open tree eligible for checkpointing. Root starts as a
// single leaf and grows into a multi-level tree in place: when
// reconciliation splits it, Reconcile builds the new internal page one
// level up and hands it back as Result.NewRoot, which syncReconcileOne
// installs here so the next checkpoint (and any cursor opened against
// this handle) sees the tree's real current shape.
type Handle struct {
	Name      string
	Root      *page.Page
	Mgr       *block.Manager
	Transient bool // excluded from selection (spec.md §4.10 step 2)

	// RootCookie is the tree's root address as of its last checkpoint.
	// A clean tree (Root.Dirty == false) reuses this unchanged rather
	// than re-reconciling content that hasn't moved.
	RootCookie addr.Cookie
}

// Metadata is what step 4 (Resolve) produces per tree: durable enough to
// reopen the tree at exactly this checkpoint.
type Metadata struct {
	Name           string
	CheckpointID   uint64
	RootCookie     addr.Cookie
	AvailCookie    addr.Cookie
	StableTS       uint64
	ExtraRootCookies []addr.Cookie // additional images when the root split but deferred updates kept it from getting a new parent; see syncReconcileOne
}

// Checkpointer runs the protocol against a txn.Manager's transaction
// state and timestamp oracles.
type Checkpointer struct {
	txns *txn.Manager

	mu      sync.Mutex
	nextID  uint64
}

// New returns a Checkpointer driven by txns.
func New(txns *txn.Manager) *Checkpointer {
	return &Checkpointer{txns: txns}
}

// Run executes the full pin/select/sync-reconcile/resolve/release
// protocol over handles, returning one Metadata per selected, non-
// transient handle. cfg controls reconciliation's page-size/overflow
// knobs (see internal/reconcile.Config).
func (c *Checkpointer) Run(handles []*Handle, cfg reconcile.Config) ([]Metadata, error) {
	// Step 1: Pin. The checkpoint lock is this Checkpointer's own mutex;
	// ckpt_snap is a read-only transaction's snapshot, and metadata_pinned
	// is modeled as the txn manager's pinned timestamp so oldest-id
	// bookkeeping doesn't advance past the checkpoint's view while it runs.
	c.mu.Lock()
	defer c.mu.Unlock()

	ckptTxn := c.txns.Begin()
	snap := ckptTxn.Snapshot()
	if err := c.txns.SetPinnedTimestamp(snap.Min); err != nil {
		c.txns.Rollback(ckptTxn, "checkpoint pin failed")
		return nil, fmt.Errorf("checkpoint: pin: %w", err)
	}
	defer c.txns.Rollback(ckptTxn, "checkpoint complete") // read-only; never committed

	c.nextID++
	id := c.nextID

	// Step 2: Select. Transient handles (scratch/temporary trees) never
	// appear in a checkpoint.
	var selected []*Handle
	for _, h := range handles {
		if !h.Transient {
			selected = append(selected, h)
		}
	}

	// Step 3: Sync-reconcile. Each handle's dirty pages reconcile at the
	// pinned horizon; a production checkpoint also steers eviction away
	// from this tree for the duration, which the cache package's caller
	// is responsible for (Checkpointer has no visibility into the
	// eviction supervisor's walk).
	results := make([]Metadata, 0, len(selected))
	for _, h := range selected {
		meta, err := c.syncReconcileOne(h, snap.Min, id, cfg)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: tree %q: %w", h.Name, err)
		}
		results = append(results, meta)
	}

	c.txns.SetStableTimestamp(snap.Min)
	return results, nil
}

// catalogFile is the connection-wide record of every table's last
// checkpoint, written beside the table files themselves.
const catalogFile = "wtstore.catalog"

// PersistCatalog writes results as the connection's durable catalog:
// the table-name-to-root-cookie mapping a reopen would need to find
// each tree's last checkpointed state. Grounded on the teacher's
// pack-mate calvinalkan-agent-task/cache_binary.go, which writes its
// on-disk cache the same way (marshal, then atomic.WriteFile) so a
// crash mid-write never leaves a torn catalog behind.
func PersistCatalog(dir string, results []Metadata) error {
	buf, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal catalog: %w", err)
	}
	return atomic.WriteFile(filepath.Join(dir, catalogFile), bytes.NewReader(buf))
}

// syncReconcileOne is steps 3-4 for a single handle: reconcile if dirty,
// persist the avail-extent list, and build that tree's Metadata record.
func (c *Checkpointer) syncReconcileOne(h *Handle, horizon uint64, id uint64, cfg reconcile.Config) (Metadata, error) {
	var extra []addr.Cookie

	if h.Root.Dirty {
		result, err := reconcile.Reconcile(h.Root, h.Mgr, horizon, cfg)
		if err != nil {
			return Metadata{}, err
		}
		switch {
		case result.NewRoot != nil:
			// Root split: Reconcile already built and wrote the new
			// parent one level up (spec.md §4.6 step 6's publish-to-
			// parent, with no existing parent to publish into here).
			h.RootCookie = result.Images[0].Cookie
			h.Root = result.NewRoot
		case len(result.Images) == 0:
			// Reconciled to empty: no root to point at. A multi-level
			// tree would mark the parent slot DELETED here (spec.md
			// §4.6 step 6); a single-handle tree just has no root.
			h.RootCookie = addr.NilCookie
		default:
			h.RootCookie = result.Images[0].Cookie
			for _, img := range result.Images[1:] {
				extra = append(extra, img.Cookie)
			}
			if result.Deferred != nil {
				h.Root = result.Deferred
			}
		}
		h.Root.Dirty = false
	}

	availCookie, err := h.Mgr.WriteAvailList()
	if err != nil {
		return Metadata{}, fmt.Errorf("write avail list: %w", err)
	}
	if err := h.Mgr.Sync(); err != nil {
		return Metadata{}, fmt.Errorf("sync: %w", err)
	}

	return Metadata{
		Name:             h.Name,
		CheckpointID:     id,
		RootCookie:       h.RootCookie,
		AvailCookie:      availCookie,
		StableTS:         horizon,
		ExtraRootCookies: extra,
	}, nil
}
