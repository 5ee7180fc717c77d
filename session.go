package wt

import (
	"fmt"

	"github.com/wtstore/wtstore/internal/cursor"
	"github.com/wtstore/wtstore/internal/txn"
)

// Session is one thread's handle onto a Connection: it owns at most one
// active transaction at a time and opens cursors against it. Not safe
// for concurrent use by more than one goroutine, matching spec.md §5.
type Session struct {
	conn *Connection
	txn  *txn.Txn
}

// Begin starts a new transaction for this session. It is an error to
// call Begin while a transaction is already active.
func (s *Session) Begin() error {
	if s.txn != nil {
		return fmt.Errorf("wt: session already has an active transaction")
	}
	s.txn = s.conn.txns.Begin()
	return nil
}

// Commit commits the session's active transaction at commitTS.
func (s *Session) Commit(commitTS uint64) error {
	if s.txn == nil {
		return fmt.Errorf("wt: no active transaction")
	}
	err := s.conn.txns.Commit(s.txn, commitTS)
	s.txn = nil
	return err
}

// Rollback aborts the session's active transaction.
func (s *Session) Rollback() {
	if s.txn == nil {
		return
	}
	s.conn.txns.Rollback(s.txn, "session rollback")
	s.txn = nil
}

// OpenCursor returns a cursor over table, bound to this session's active
// transaction. Begin must be called first.
func (s *Session) OpenCursor(table string) (*cursor.Cursor, error) {
	if s.txn == nil {
		return nil, fmt.Errorf("wt: OpenCursor requires an active transaction")
	}
	h, err := s.conn.table(table)
	if err != nil {
		return nil, err
	}
	return cursor.New(h.Root, s.txn, s.conn.txns, h.Mgr), nil
}
