package cursor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wtstore/wtstore/internal/page"
	"github.com/wtstore/wtstore/internal/txn"
)

func freshLeaf() *page.Page {
	p := page.NewLeaf(1)
	p.Keys = []page.Cell{{Data: []byte("b")}, {Data: []byte("d")}}
	p.Values = []page.Cell{{Data: []byte("B")}, {Data: []byte("D")}}
	p.Updates = make([]*page.Update, 2)
	p.InsertHeads = []*page.SkipList{page.NewSkipList(1), page.NewSkipList(2), page.NewSkipList(3)}
	return p
}

func TestCursorSearchOnDisk(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	p.Updates[0] = &page.Update{TxnID: 0, Value: []byte("B")}
	p.Updates[1] = &page.Update{TxnID: 0, Value: []byte("D")}

	tx := mgr.Begin()
	c := New(p, tx, mgr, nil)
	cmp, err := c.Search([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, 0, cmp)
	require.Equal(t, []byte("B"), c.Value())
}

func TestCursorInsertThenVisibleToOwnTxn(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	tx := mgr.Begin()
	c := New(p, tx, mgr, nil)

	require.NoError(t, c.Insert([]byte("c"), []byte("C")))

	_, err := c.Search([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("C"), c.Value())
}

func TestCursorInsertInvisibleToConcurrentSnapshot(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()

	writer := mgr.Begin()
	w := New(p, writer, mgr, nil)
	require.NoError(t, w.Insert([]byte("c"), []byte("C")))

	reader := mgr.Begin() // snapshot predates writer's (uncommitted) insert
	r := New(p, reader, mgr, nil)
	_, err := r.Search([]byte("c"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mgr.Commit(writer, 1))

	reader2 := mgr.Begin()
	r2 := New(p, reader2, mgr, nil)
	_, err = r2.Search([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("C"), r2.Value())
}

func TestCursorUpdateConflict(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	p.Updates[0] = &page.Update{TxnID: 0, Value: []byte("B")}

	t1 := mgr.Begin()
	c1 := New(p, t1, mgr, nil)
	_, err := c1.Search([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, c1.Update([]byte("B1")))

	t2 := mgr.Begin()
	c2 := New(p, t2, mgr, nil)
	_, err = c2.Search([]byte("b"))
	require.NoError(t, err) // t1's update is invisible to t2's snapshot, but reading an older version succeeds
	require.ErrorIs(t, c2.Update([]byte("B2")), txn.ErrConflict)
}

func TestCursorRemoveThenNotFound(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	p.Updates[0] = &page.Update{TxnID: 0, Value: []byte("B")}

	tx := mgr.Begin()
	c := New(p, tx, mgr, nil)
	_, err := c.Search([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, c.Remove())

	tx2 := mgr.Begin()
	c2 := New(p, tx2, mgr, nil)
	_, err = c2.Search([]byte("b"))
	require.NoError(t, err) // tx's tombstone isn't visible yet (not committed)

	require.NoError(t, mgr.Commit(tx, 1))
	tx3 := mgr.Begin()
	c3 := New(p, tx3, mgr, nil)
	_, err = c3.Search([]byte("b"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInsertThenNextSeesInsertedKey(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	p.Updates[0] = &page.Update{TxnID: 0, Value: []byte("B")}
	p.Updates[1] = &page.Update{TxnID: 0, Value: []byte("D")}

	tx := mgr.Begin()
	c := New(p, tx, mgr, nil)
	require.NoError(t, c.Insert([]byte("c"), []byte("C")))

	_, err := c.Search([]byte("b"))
	require.NoError(t, err)

	require.NoError(t, c.Next())
	require.Equal(t, Positioned, c.State())
	require.Equal(t, []byte("c"), c.Key())
	require.Equal(t, []byte("C"), c.Value())

	require.NoError(t, c.Next())
	require.Equal(t, Positioned, c.State())
	require.Equal(t, []byte("d"), c.Key())

	require.NoError(t, c.Next())
	require.Equal(t, End, c.State())
}

func TestPrevMergesInsertListAndOnDiskSlots(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	p.Updates[0] = &page.Update{TxnID: 0, Value: []byte("B")}
	p.Updates[1] = &page.Update{TxnID: 0, Value: []byte("D")}

	tx := mgr.Begin()
	c := New(p, tx, mgr, nil)
	require.NoError(t, c.Insert([]byte("c"), []byte("C")))

	_, err := c.Search([]byte("d"))
	require.NoError(t, err)

	require.NoError(t, c.Prev())
	require.Equal(t, Positioned, c.State())
	require.Equal(t, []byte("c"), c.Key())

	require.NoError(t, c.Prev())
	require.Equal(t, Positioned, c.State())
	require.Equal(t, []byte("b"), c.Key())

	require.NoError(t, c.Prev())
	require.Equal(t, End, c.State())
}

func TestSearchDescendsThroughInternalRoot(t *testing.T) {
	mgr := txn.NewManager()

	left := page.NewLeaf(1)
	left.Keys = []page.Cell{{Data: []byte("a")}, {Data: []byte("b")}}
	left.Values = []page.Cell{{Data: []byte("A")}, {Data: []byte("B")}}
	left.Updates = make([]*page.Update, 2)
	left.Updates[0] = &page.Update{TxnID: 0, Value: []byte("A")}
	left.Updates[1] = &page.Update{TxnID: 0, Value: []byte("B")}
	left.InsertHeads = []*page.SkipList{page.NewSkipList(1), page.NewSkipList(2), page.NewSkipList(3)}

	right := page.NewLeaf(4)
	right.Keys = []page.Cell{{Data: []byte("d")}, {Data: []byte("e")}}
	right.Values = []page.Cell{{Data: []byte("D")}, {Data: []byte("E")}}
	right.Updates = make([]*page.Update, 2)
	right.Updates[0] = &page.Update{TxnID: 0, Value: []byte("D")}
	right.Updates[1] = &page.Update{TxnID: 0, Value: []byte("E")}
	right.InsertHeads = []*page.SkipList{page.NewSkipList(5), page.NewSkipList(6), page.NewSkipList(7)}

	root := page.NewInternal(8)
	root.Children = []page.ChildRef{
		{Key: []byte("a"), Page: left, State: page.RefMem},
		{Key: []byte("d"), Page: right, State: page.RefMem},
	}
	root.InsertHeads = []*page.SkipList{page.NewSkipList(9), page.NewSkipList(10), page.NewSkipList(11)}

	tx := mgr.Begin()
	c := New(root, tx, mgr, nil)

	_, err := c.Search([]byte("b"))
	require.NoError(t, err)
	require.Same(t, left, c.Page)
	require.Equal(t, []byte("B"), c.Value())

	_, err = c.Search([]byte("e"))
	require.NoError(t, err)
	require.Same(t, right, c.Page)
	require.Equal(t, []byte("E"), c.Value())
}

func TestRangeCursor(t *testing.T) {
	mgr := txn.NewManager()
	p := freshLeaf()
	p.Updates[0] = &page.Update{TxnID: 0, Value: []byte("B")}
	p.Updates[1] = &page.Update{TxnID: 0, Value: []byte("D")}

	tx := mgr.Begin()
	c := New(p, tx, mgr, nil)
	rc := NewRange(c, Bound{Key: []byte("a"), Op: CmpGE}, Bound{Key: []byte("d"), Op: CmpLE})

	ok, err := rc.Seek()
	require.NoError(t, err)
	require.True(t, ok)

	var seen [][]byte
	for rc.Valid() {
		seen = append(seen, append([]byte(nil), rc.Key()...))
		if err := rc.Next(); err != nil {
			break
		}
	}
	require.Equal(t, [][]byte{[]byte("b"), []byte("d")}, seen)
}
