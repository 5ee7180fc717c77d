package wt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wtstore/wtstore/internal/fs"
	"github.com/wtstore/wtstore/internal/reconcile"
	"github.com/wtstore/wtstore/internal/txn"
)

// TestSimpleRoundTrip is scenario 1: create a table, insert a key, commit,
// and read it back through a fresh session — "reopen" here is
// checkpointing the table and decoding its durable root image rather
// than a full connection restart.
func TestSimpleRoundTrip(t *testing.T) {
	conn, err := OpenWithFS(fs.NewMem())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTable("t"))

	sess := conn.OpenSession()
	require.NoError(t, sess.Begin())
	cur, err := sess.OpenCursor("t")
	require.NoError(t, err)
	require.NoError(t, cur.Insert([]byte("k1"), []byte("v1")))
	require.NoError(t, sess.Commit(10))

	sess2 := conn.OpenSession()
	require.NoError(t, sess2.Begin())
	cur2, err := sess2.OpenCursor("t")
	require.NoError(t, err)
	_, err = cur2.Search([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), cur2.Value())
	sess2.Rollback()

	results, err := conn.Checkpoint()
	require.NoError(t, err)
	require.Len(t, results, 1)

	h, err := conn.table("t")
	require.NoError(t, err)
	raw, err := h.Mgr.Read(results[0].RootCookie, false)
	require.NoError(t, err)
	decoded, err := reconcile.DecodeImage(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("k1"), decoded.ReconstructKeyExported(0))
	require.Equal(t, []byte("v1"), decoded.Values[0].Data)
}

// TestConflictAndRetry is scenario 3: two transactions active at the
// same time both try to update k; first-committer-wins means whichever
// writes second sees ErrConflict and must roll back.
func TestConflictAndRetry(t *testing.T) {
	conn, err := OpenWithFS(fs.NewMem())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTable("t"))

	seed := conn.OpenSession()
	require.NoError(t, seed.Begin())
	cur, err := seed.OpenCursor("t")
	require.NoError(t, err)
	require.NoError(t, cur.Insert([]byte("k"), []byte{0}))
	require.NoError(t, seed.Commit(1))

	sessA := conn.OpenSession()
	require.NoError(t, sessA.Begin())
	curA, err := sessA.OpenCursor("t")
	require.NoError(t, err)
	_, err = curA.Search([]byte("k"))
	require.NoError(t, err)

	sessB := conn.OpenSession()
	require.NoError(t, sessB.Begin())
	curB, err := sessB.OpenCursor("t")
	require.NoError(t, err)
	_, err = curB.Search([]byte("k"))
	require.NoError(t, err)

	require.NoError(t, curA.Update([]byte{1}))

	errB := curB.Update([]byte{2})
	require.ErrorIs(t, errB, txn.ErrConflict)
	sessB.Rollback()

	require.NoError(t, sessA.Commit(2))
}

// TestTableNotFoundReturnsNotFound exercises the error taxonomy.
func TestTableNotFoundReturnsNotFound(t *testing.T) {
	conn, err := OpenWithFS(fs.NewMem())
	require.NoError(t, err)
	defer conn.Close()

	sess := conn.OpenSession()
	require.NoError(t, sess.Begin())
	_, err = sess.OpenCursor("missing")
	require.ErrorIs(t, err, ErrNotFound)
}
