package checkpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/wtstore/wtstore/internal/block"
	"github.com/wtstore/wtstore/internal/checksum"
	"github.com/wtstore/wtstore/internal/fs"
	"github.com/wtstore/wtstore/internal/page"
	"github.com/wtstore/wtstore/internal/reconcile"
	"github.com/wtstore/wtstore/internal/txn"
)

func newHandle(t *testing.T, name string) *Handle {
	t.Helper()
	mgr, err := block.Open(fs.NewMem(), name+".wt", 512, checksum.Codec{})
	require.NoError(t, err)

	p := page.NewLeaf(1)
	p.Keys = []page.Cell{{Data: []byte("a")}}
	p.Values = []page.Cell{{Data: []byte("1")}}
	p.Updates = []*page.Update{nil}
	p.InsertHeads = []*page.SkipList{page.NewSkipList(1), page.NewSkipList(2)}
	p.Dirty = true

	return &Handle{Name: name, Root: p, Mgr: mgr}
}

func TestCheckpointRunProducesMetadataPerTree(t *testing.T) {
	txns := txn.NewManager()
	cp := New(txns)

	h1 := newHandle(t, "t1")
	h2 := newHandle(t, "t2")

	results, err := cp.Run([]*Handle{h1, h2}, reconcile.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, m := range results {
		require.False(t, m.RootCookie.Invalid())
		require.Equal(t, uint64(1), m.CheckpointID)
	}
	require.False(t, h1.Root.Dirty)
	require.False(t, h2.Root.Dirty)
}

func TestCheckpointSkipsTransientHandles(t *testing.T) {
	txns := txn.NewManager()
	cp := New(txns)

	h1 := newHandle(t, "t1")
	h2 := newHandle(t, "scratch")
	h2.Transient = true

	results, err := cp.Run([]*Handle{h1, h2}, reconcile.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "t1", results[0].Name)
}

func TestCheckpointReadAfterCheckpointSeesRoot(t *testing.T) {
	txns := txn.NewManager()
	cp := New(txns)
	h := newHandle(t, "t1")

	results, err := cp.Run([]*Handle{h}, reconcile.DefaultConfig())
	require.NoError(t, err)

	raw, err := h.Mgr.Read(results[0].RootCookie, false)
	require.NoError(t, err)
	decoded, err := reconcile.DecodeImage(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), decoded.ReconstructKeyExported(0))
	require.Equal(t, []byte("1"), decoded.Values[0].Data)
}

func TestCheckpointAdvancesStableTimestamp(t *testing.T) {
	txns := txn.NewManager()
	cp := New(txns)
	h := newHandle(t, "t1")

	before := txns.StableTimestamp()
	_, err := cp.Run([]*Handle{h}, reconcile.DefaultConfig())
	require.NoError(t, err)
	require.GreaterOrEqual(t, txns.StableTimestamp(), before)
}

func TestCheckpointSecondRunIsIdempotentWhenClean(t *testing.T) {
	txns := txn.NewManager()
	cp := New(txns)
	h := newHandle(t, "t1")

	first, err := cp.Run([]*Handle{h}, reconcile.DefaultConfig())
	require.NoError(t, err)

	second, err := cp.Run([]*Handle{h}, reconcile.DefaultConfig())
	require.NoError(t, err)

	// The root didn't change (no writes between checkpoints), so the
	// second checkpoint's root cookie still names the same content.
	raw1, err := h.Mgr.Read(first[0].RootCookie, false)
	require.NoError(t, err)
	raw2, err := h.Mgr.Read(second[0].RootCookie, false)
	require.NoError(t, err)
	require.Equal(t, raw1, raw2)

	// Name, RootCookie and ExtraRootCookies should also be unchanged by a
	// no-op checkpoint. CheckpointID advances, every run writes a fresh
	// avail-list block (a new AvailCookie), and StableTS follows the new
	// checkpoint transaction's snapshot, so those fields are ignored.
	if diff := cmp.Diff(first[0], second[0], cmpopts.IgnoreFields(Metadata{}, "CheckpointID", "AvailCookie", "StableTS")); diff != "" {
		t.Errorf("second checkpoint's metadata diverged from the first (-first +second):\n%s", diff)
	}
}
