// Package txn implements snapshot MVCC transactions (spec component C9):
// transaction ids, snapshots, visibility, commit/rollback/prepare, and the
// global timestamp state (oldest/stable/pinned/commit/read) that drives
// rollback-to-stable and checkpoint's visibility horizon.
//
// Grounded on the teacher's filodb_transactions.go (DBTX/KVTX,
// ReaderList min-reader-version heap, BeginRead/EndRead, two-phase-fsync
// Commit) for the begin/commit/rollback lifecycle shape, generalized from
// FiloDB's single "database version" MVCC (one global monotonic counter,
// readers see a version snapshot) to the txn-id-plus-timestamp model
// spec.md §4.9 describes, which separates transaction order from wall
// clock / application-assigned commit time.
package txn

import (
	"errors"
	"sync"

	"github.com/wtstore/wtstore/internal/stats"
	"github.com/wtstore/wtstore/internal/wtlog"
)

var log = wtlog.WithComponent("txn")

// State is a transaction's lifecycle state.
type State uint8

const (
	StateActive State = iota
	StateCommitted
	StateAborted
	StatePrepared
)

// ErrConflict is returned when a write would violate first-committer-wins:
// another transaction's uncommitted write is already on the key's update
// chain head.
var ErrConflict = errors.New("txn: write-write conflict, transaction must roll back")

// ErrRolledBack is returned by operations attempted against a transaction
// already rolled back.
var ErrRolledBack = errors.New("txn: transaction already rolled back")

// Snapshot is the set of transaction ids visible to a reader, captured at
// Begin. Min/Max bound the range of ids that could possibly be visible;
// Exceptions lists ids within that range that were still running (and so
// invisible) when the snapshot was taken.
type Snapshot struct {
	OwnID      uint64
	Min        uint64
	Max        uint64
	Exceptions []uint64
}

// Visible reports whether an update committed by txnID is visible to this
// snapshot (spec.md §4.9's visibility rule): a transaction's own writes are
// always visible; ids at or above Max started after the snapshot and are
// never visible; ids below Min committed before every concurrently-running
// transaction at snapshot time and are always visible; ids in between are
// visible unless they were in the exception list.
func (s Snapshot) Visible(txnID uint64) bool {
	if txnID == s.OwnID {
		return true
	}
	if txnID >= s.Max {
		return false
	}
	if txnID < s.Min {
		return true
	}
	for _, e := range s.Exceptions {
		if e == txnID {
			return false
		}
	}
	return true
}

// Txn is one transaction's handle.
type Txn struct {
	id       uint64
	mgr      *Manager
	snapshot Snapshot

	mu        sync.Mutex
	state     State
	commitTS  uint64
	durableTS uint64
	readTS    uint64
	prepareTS uint64
}

// ID returns the transaction's id, used to stamp updates it installs.
func (t *Txn) ID() uint64 { return t.id }

// Snapshot returns the visibility snapshot captured at Begin.
func (t *Txn) Snapshot() Snapshot { return t.snapshot }

// State reports the transaction's current lifecycle state.
func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetReadTimestamp pins the timestamp this transaction's reads are
// evaluated against (in addition to id-based snapshot visibility).
func (t *Txn) SetReadTimestamp(ts uint64) { t.mu.Lock(); t.readTS = ts; t.mu.Unlock() }

// ReadTimestamp returns the pinned read timestamp, 0 if none was set.
func (t *Txn) ReadTimestamp() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTS
}

// Manager owns transaction id allocation, the active-transaction set used
// to build snapshots, and the global timestamp state.
type Manager struct {
	mu       sync.Mutex
	nextID   uint64
	active   map[uint64]*Txn
	resolved map[uint64]State // bounded: trimmed below oldestID

	oldestID uint64
	oldestTS uint64
	stableTS uint64
	pinnedTS uint64
}

// NewManager returns a Manager with transaction ids starting at 1 (id 0 is
// reserved as "no transaction").
func NewManager() *Manager {
	return &Manager{
		nextID:   1,
		active:   map[uint64]*Txn{},
		resolved: map[uint64]State{},
		oldestID: 1,
	}
}

// Begin starts a new transaction and captures its snapshot.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	min := id
	var exceptions []uint64
	for activeID := range m.active {
		if activeID < min {
			min = activeID
		}
		exceptions = append(exceptions, activeID)
	}

	t := &Txn{
		id:  id,
		mgr: m,
		snapshot: Snapshot{
			OwnID:      id,
			Min:        min,
			Max:        m.nextID,
			Exceptions: exceptions,
		},
		state: StateActive,
	}
	m.active[id] = t
	return t
}

// txnState reports a transaction's resolved state, for conflict checks on
// chains that may reference transactions no longer in the active set.
func (m *Manager) txnState(id uint64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.active[id]; ok {
		t.mu.Lock()
		st := t.state
		t.mu.Unlock()
		return st
	}
	if st, ok := m.resolved[id]; ok {
		return st
	}
	// A transaction id below oldestID whose resolution was trimmed reads
	// as committed: once trimmed, committed and aborted transactions are
	// no longer told apart (neither is active, so neither conflicts).
	return StateCommitted
}

// CheckConflict implements first-committer-wins: a write to a key whose
// update-chain head was written by a different transaction that is still
// active (or prepared) is a write-write conflict. Callers must hold a
// per-key latch across CheckConflict and the chain install so the check
// is atomic with the write.
func (m *Manager) CheckConflict(self *Txn, headTxnID uint64) error {
	if headTxnID == 0 || headTxnID == self.id {
		return nil
	}
	switch m.txnState(headTxnID) {
	case StateActive, StatePrepared:
		return ErrConflict
	default:
		return nil
	}
}

// Commit finalizes txn, assigning it commitTS (0 if the caller is running
// without explicit timestamps) and publishing its resolution.
func (m *Manager) Commit(t *Txn, commitTS uint64) error {
	t.mu.Lock()
	if t.state != StateActive && t.state != StatePrepared {
		t.mu.Unlock()
		return ErrRolledBack
	}
	t.state = StateCommitted
	t.commitTS = commitTS
	t.durableTS = commitTS
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.active, t.id)
	m.resolved[t.id] = StateCommitted
	m.mu.Unlock()

	stats.TxnCommitsTotal.Inc()
	return nil
}

// Rollback aborts txn. reason is recorded on the rollback counter's
// "reason" label (e.g. "conflict", "api", "prepare-timeout").
func (m *Manager) Rollback(t *Txn, reason string) {
	t.mu.Lock()
	t.state = StateAborted
	t.mu.Unlock()

	m.mu.Lock()
	delete(m.active, t.id)
	m.resolved[t.id] = StateAborted
	m.mu.Unlock()

	stats.TxnRollbacksTotal.WithLabelValues(reason).Inc()
}

// Prepare marks txn prepared (two-phase commit's first phase): its
// updates remain invisible to other readers but it can no longer be
// rolled back for ordinary conflict reasons, only by an explicit
// rollback of the prepared transaction itself.
func (m *Manager) Prepare(t *Txn, prepareTS uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrRolledBack
	}
	t.state = StatePrepared
	t.prepareTS = prepareTS
	return nil
}

// OldestID returns the id below which every transaction has resolved and
// no snapshot can reference, advancing it to the minimum of the active
// set (or nextID, if none are active) and trimming the resolved map.
func (m *Manager) OldestID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	min := m.nextID
	for id := range m.active {
		if id < min {
			min = id
		}
	}
	m.oldestID = min
	for id := range m.resolved {
		if id < min {
			delete(m.resolved, id)
		}
	}
	return m.oldestID
}

// SetOldestTimestamp, SetStableTimestamp, SetPinnedTimestamp set the
// global timestamp watermarks spec.md §4.9 names. SetOldestTimestamp
// rejects a regression and SetPinnedTimestamp rejects a value below
// oldest_ts; SetStableTimestamp accepts any value, and nothing in this
// module runs rollback-to-stable when stable_ts regresses.
func (m *Manager) SetOldestTimestamp(ts uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts < m.oldestTS {
		return errors.New("txn: oldest_ts must not regress")
	}
	m.oldestTS = ts
	return nil
}

func (m *Manager) SetStableTimestamp(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stableTS = ts
}

func (m *Manager) SetPinnedTimestamp(ts uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts < m.oldestTS {
		return errors.New("txn: pinned_ts must not precede oldest_ts")
	}
	m.pinnedTS = ts
	return nil
}

func (m *Manager) OldestTimestamp() uint64 { m.mu.Lock(); defer m.mu.Unlock(); return m.oldestTS }
func (m *Manager) StableTimestamp() uint64 { m.mu.Lock(); defer m.mu.Unlock(); return m.stableTS }
func (m *Manager) PinnedTimestamp() uint64 { m.mu.Lock(); defer m.mu.Unlock(); return m.pinnedTS }
