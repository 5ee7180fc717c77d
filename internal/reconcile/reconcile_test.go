package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wtstore/wtstore/internal/block"
	"github.com/wtstore/wtstore/internal/checksum"
	"github.com/wtstore/wtstore/internal/fs"
	"github.com/wtstore/wtstore/internal/page"
)

func newTestManager(t *testing.T) *block.Manager {
	t.Helper()
	m, err := block.Open(fs.NewMem(), "test.wt", 512, checksum.Codec{})
	require.NoError(t, err)
	return m
}

func leafWithTwoKeys() *page.Page {
	p := page.NewLeaf(1)
	p.Keys = []page.Cell{{Data: []byte("apple")}, {Data: []byte("banana")}}
	p.Values = []page.Cell{{Data: []byte("A")}, {Data: []byte("B")}}
	p.Updates = make([]*page.Update, 2)
	p.InsertHeads = []*page.SkipList{page.NewSkipList(1), page.NewSkipList(2), page.NewSkipList(3)}
	return p
}

func TestReconcileRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	p := leafWithTwoKeys()

	result, err := Reconcile(p, mgr, ^uint64(0), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, result.Images, 1)
	require.Equal(t, []byte("apple"), result.Images[0].FirstKey)
	require.Nil(t, result.Deferred)

	raw, err := mgr.Read(result.Images[0].Cookie, false)
	require.NoError(t, err)

	decoded, err := DecodeImage(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Keys, 2)
	require.Equal(t, []byte("apple"), decoded.ReconstructKeyExported(0))
	require.Equal(t, []byte("banana"), decoded.ReconstructKeyExported(1))
	require.Equal(t, []byte("A"), decoded.Values[0].Data)
	require.Equal(t, []byte("B"), decoded.Values[1].Data)
}

func TestReconcilePicksVisibleUpdateOverOnDisk(t *testing.T) {
	mgr := newTestManager(t)
	p := leafWithTwoKeys()
	p.Updates[0] = &page.Update{TxnID: 1, CommitTS: 5, Value: []byte("A2")}

	result, err := Reconcile(p, mgr, 10, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, result.Images, 1)

	raw, err := mgr.Read(result.Images[0].Cookie, false)
	require.NoError(t, err)
	decoded, err := DecodeImage(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("A2"), decoded.Values[0].Data)
}

func TestReconcileDefersUpdatesPastHorizon(t *testing.T) {
	mgr := newTestManager(t)
	p := leafWithTwoKeys()
	p.Updates[0] = &page.Update{TxnID: 1, CommitTS: 100, Value: []byte("A2")}

	result, err := Reconcile(p, mgr, 10, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, result.Deferred)
	require.Same(t, p, result.Deferred)

	raw, err := mgr.Read(result.Images[0].Cookie, false)
	require.NoError(t, err)
	decoded, err := DecodeImage(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("A"), decoded.Values[0].Data) // on-disk value, update deferred
}

func TestReconcileVisibleTombstoneDropsKey(t *testing.T) {
	mgr := newTestManager(t)
	p := leafWithTwoKeys()
	p.Updates[1] = &page.Update{TxnID: 1, CommitTS: 1, Tombstone: true}

	result, err := Reconcile(p, mgr, 10, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, result.Images, 1)

	raw, err := mgr.Read(result.Images[0].Cookie, false)
	require.NoError(t, err)
	decoded, err := DecodeImage(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Keys, 1)
	require.Equal(t, []byte("apple"), decoded.ReconstructKeyExported(0))
}

func TestReconcileEmptyPageYieldsNoImages(t *testing.T) {
	mgr := newTestManager(t)
	p := page.NewLeaf(1)

	result, err := Reconcile(p, mgr, ^uint64(0), DefaultConfig())
	require.NoError(t, err)
	require.Nil(t, result.Images)
}

func TestReconcileSplitsOversizedPage(t *testing.T) {
	mgr := newTestManager(t)
	p := page.NewLeaf(1)
	cfg := Config{LeafPageMax: 64, OverflowThreshold: 1 << 20}

	keys := []string{"aaa", "bbb", "ccc", "ddd", "eee", "fff"}
	for i, k := range keys {
		p.Keys = append(p.Keys, page.Cell{Data: []byte(k)})
		p.Values = append(p.Values, page.Cell{Data: []byte{byte(i)}})
		p.Updates = append(p.Updates, nil)
	}
	p.InsertHeads = []*page.SkipList{page.NewSkipList(1)}
	for range keys {
		p.InsertHeads = append(p.InsertHeads, page.NewSkipList(int64(len(p.InsertHeads)+1)))
	}

	result, err := Reconcile(p, mgr, ^uint64(0), cfg)
	require.NoError(t, err)
	require.Len(t, result.Images, 1, "the split publishes one image: the new parent's")
	require.NotNil(t, result.NewRoot, "expected the oversized page to split and build a new parent")
	require.Equal(t, page.RowInt, result.NewRoot.Kind)
	require.Greater(t, len(result.NewRoot.Children), 1, "expected more than one child leaf from the split")

	raw, err := mgr.Read(result.Images[0].Cookie, false)
	require.NoError(t, err)
	decodedRoot, err := DecodeImage(raw)
	require.NoError(t, err)
	require.Equal(t, page.RowInt, decodedRoot.Kind)
	require.Equal(t, len(result.NewRoot.Children), len(decodedRoot.Children))

	var gotKeys []string
	for i, ch := range result.NewRoot.Children {
		require.NotNil(t, ch.Page, "split children should be resident on the freshly built parent")
		require.Equal(t, ch.Key, decodedRoot.Children[i].Key)
		for j := range ch.Page.Keys {
			gotKeys = append(gotKeys, string(ch.Page.ReconstructKeyExported(j)))
		}
	}
	require.Equal(t, keys, gotKeys)
}

func TestReconcileOverflowValueSpilled(t *testing.T) {
	mgr := newTestManager(t)
	p := page.NewLeaf(1)
	bigValue := make([]byte, 64)
	for i := range bigValue {
		bigValue[i] = byte(i)
	}
	p.Keys = []page.Cell{{Data: []byte("k")}}
	p.Values = []page.Cell{{Data: bigValue}}
	p.Updates = []*page.Update{nil}
	p.InsertHeads = []*page.SkipList{page.NewSkipList(1), page.NewSkipList(2)}

	result, err := Reconcile(p, mgr, ^uint64(0), Config{LeafPageMax: 1 << 20, OverflowThreshold: 8})
	require.NoError(t, err)
	require.Len(t, result.Images, 1)

	raw, err := mgr.Read(result.Images[0].Cookie, false)
	require.NoError(t, err)
	decoded, err := DecodeImage(raw)
	require.NoError(t, err)
	require.True(t, decoded.Keys[0].Overflow)

	cookie, err := mgr.AddrUnpack(decoded.Values[0].Data)
	require.NoError(t, err)
	spilled, err := mgr.Read(cookie, false)
	require.NoError(t, err)
	require.Equal(t, bigValue, spilled)
}
