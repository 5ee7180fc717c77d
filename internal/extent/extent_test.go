package extent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// checkInvariants is P2: no two extents overlap or abut, and the two
// indexes agree on membership.
func checkInvariants(t *testing.T, l *List) {
	t.Helper()
	for i := 1; i < len(l.byOffset); i++ {
		prev, cur := l.byOffset[i-1], l.byOffset[i]
		require.Less(t, prev.Offset+prev.Size, cur.Offset, "extents overlap or abut")
	}
	require.ElementsMatch(t, l.byOffset, l.byFit)
}

func TestInsertMergesAdjacent(t *testing.T) {
	l := New()
	l.Insert(0, 100)
	l.Insert(100, 50) // abuts right
	checkInvariants(t, l)
	require.Equal(t, 1, l.Len())
	require.Equal(t, uint64(150), l.Total())

	l.Insert(200, 50)
	checkInvariants(t, l)
	require.Equal(t, 2, l.Len())

	l.Insert(150, 50) // bridges the two remaining extents
	checkInvariants(t, l)
	require.Equal(t, 1, l.Len())
	require.Equal(t, uint64(250), l.Total())
}

func TestAllocSplitsAndShrinksTotal(t *testing.T) {
	l := New()
	l.Insert(0, 4096*10)

	off, ok := l.Alloc(4096, false)
	require.True(t, ok)
	require.Equal(t, uint64(0), off)
	checkInvariants(t, l)
	require.Equal(t, uint64(4096*9), l.Total())

	off2, ok := l.Alloc(4096, false)
	require.True(t, ok)
	require.Equal(t, uint64(4096), off2)
	checkInvariants(t, l)
}

func TestAllocExhausted(t *testing.T) {
	l := New()
	l.Insert(0, 100)
	_, ok := l.Alloc(200, false)
	require.False(t, ok)
}

func TestRemoveOverlapSalvage(t *testing.T) {
	l := New()
	l.Insert(0, 1000)
	l.RemoveOverlap(400, 100) // [400,500) belonged to a live page
	checkInvariants(t, l)
	require.Equal(t, uint64(900), l.Total())
	require.Equal(t, 2, l.Len())
}
