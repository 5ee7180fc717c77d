package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafInsertAndSearch(t *testing.T) {
	p := NewLeaf(1)
	p.Keys = []Cell{{Data: []byte("b")}, {Data: []byte("d")}}
	p.Values = []Cell{{Data: []byte("B")}, {Data: []byte("D")}}
	p.Updates = make([]*Update, 2)
	p.InsertHeads = []*SkipList{NewSkipList(1), NewSkipList(2), NewSkipList(3)}

	existed := p.InsertKey([]byte("c"), &Update{TxnID: 1, Value: []byte("C")})
	require.False(t, existed)

	_, _, chain, cmp := p.Search([]byte("c"))
	require.Equal(t, 0, cmp)
	require.NotNil(t, chain)
	require.Equal(t, []byte("C"), chain.Value)

	existed = p.InsertKey([]byte("c"), &Update{TxnID: 2, Value: []byte("C2")})
	require.True(t, existed)
}

func TestLeafUpdateOnDiskSlot(t *testing.T) {
	p := NewLeaf(1)
	p.Keys = []Cell{{Data: []byte("a")}}
	p.Values = []Cell{{Data: []byte("A")}}
	p.Updates = make([]*Update, 1)
	p.InsertHeads = []*SkipList{NewSkipList(1), NewSkipList(2)}

	require.NoError(t, p.UpdateOnDisk(0, &Update{TxnID: 5, Value: []byte("A2")}))
	require.NoError(t, p.UpdateOnDisk(0, &Update{TxnID: 6, Value: []byte("A3")}))

	chain := p.Updates[0]
	require.Equal(t, uint64(6), chain.TxnID)
	require.Equal(t, uint64(5), chain.Next.TxnID)
	require.Nil(t, chain.Next.Next)

	require.Error(t, p.UpdateOnDisk(5, &Update{}))
}

func TestPrefixCompressedKeyReconstruction(t *testing.T) {
	p := NewLeaf(1)
	p.Keys = []Cell{
		{Data: []byte("apple")},
		{Data: []byte("icot"), PrefixLen: 2}, // "ap" + "icot" = "apicot"
	}
	require.Equal(t, []byte("apple"), p.reconstructKey(0))
	require.Equal(t, []byte("apicot"), p.reconstructKey(1))
}
