package page

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSkipListOrderingProperty is P8: for any insert sequence, the
// next_stack captured at an arbitrary search key is level-monotone and the
// level-0 entry strictly exceeds the search key.
func TestSkipListOrderingProperty(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	s := NewSkipList(2)

	var keys [][]byte
	for i := 0; i < 2000; i++ {
		k := []byte(fmt.Sprintf("key-%06d", src.Intn(1_000_000)))
		keys = append(keys, k)
		s.GetOrInsert(k, i)
	}

	for _, probe := range [][]byte{
		[]byte("key-000000"),
		[]byte("key-500000"),
		[]byte("key-999999"),
		[]byte("key-123456"),
	} {
		nexts := s.NextStack(probe)
		if nexts[0] != nil {
			require.Equal(t, 1, bytes.Compare(nexts[0].key, probe), "level-0 next must be strictly greater than search key")
		}
		for i := 1; i < MaxSkipDepth; i++ {
			if nexts[i-1] == nil || nexts[i] == nil {
				continue
			}
			require.True(t, bytes.Compare(nexts[i].key, nexts[i-1].key) >= 0,
				"higher level's next must be equal-or-farther than the lower level's")
		}
	}
}

func TestSkipListInsertSearchDelete(t *testing.T) {
	s := NewSkipList(7)
	_, existed := s.GetOrInsert([]byte("b"), 1)
	require.False(t, existed)
	_, existed = s.GetOrInsert([]byte("a"), 2)
	require.False(t, existed)
	_, existed = s.GetOrInsert([]byte("c"), 3)
	require.False(t, existed)

	v, existed := s.GetOrInsert([]byte("b"), 99)
	require.True(t, existed)
	require.Equal(t, 1, v)

	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, s.All())

	require.True(t, s.Delete([]byte("b")))
	require.False(t, s.Delete([]byte("b")))
	require.Equal(t, [][]byte{[]byte("a"), []byte("c")}, s.All())

	val, found := s.Search([]byte("a"))
	require.True(t, found)
	require.Equal(t, 2, val)
}
