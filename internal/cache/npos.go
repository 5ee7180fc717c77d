package cache

import (
	"fmt"

	"github.com/wtstore/wtstore/internal/page"
)

// Tree is the shape the normalized-position walk (spec.md §4.7) needs from
// a B-tree: the number of children under an internal node, a way to get
// the i-th child, and a way to tell whether that child is currently
// resident (vs. on-disk only, for the eviction-walk fallback). PageTree
// below implements this over page.Page/ChildRef; tests also use a plain
// in-memory N-ary tree to exercise the walk independent of the real page
// layer.
type Tree interface {
	Root() Ref
	NumChildren(ref Ref) int
	Child(ref Ref, i int) Ref
	IsLeaf(ref Ref) bool
	Resident(ref Ref) bool
}

// Ref is an opaque handle a Tree implementation hands back; cache code
// never inspects it beyond passing it back to the Tree.
type Ref any

// ErrNotFound is returned by FromNpos when npos resolves into a subtree
// with no resident page and no resident sibling to fall back to.
var ErrNotFound = fmt.Errorf("cache: no resident page at this normalized position")

// Npos computes path's normalized position: at each internal-page
// ancestor, npos' = (index_of_child + npos) / number_of_children; the
// root is defined as npos = 0.5. path must run root-first, ending at the
// ref whose position is wanted, with childIndex[i] naming which child of
// path[i] leads to path[i+1].
func Npos(childIndexPath []int, childCounts []int) float64 {
	if len(childIndexPath) != len(childCounts) {
		panic("cache: Npos path/count length mismatch")
	}
	npos := 0.5
	for i := len(childIndexPath) - 1; i >= 0; i-- {
		npos = (float64(childIndexPath[i]) + npos) / float64(childCounts[i])
	}
	return npos
}

// FromNpos descends from the root toward normalized position npos,
// choosing child i = floor(npos*E) at each internal page of E children
// and recursing with npos' = npos*E - i. evictionWalk, when true, permits
// falling back to the nearest resident sibling when the chosen child
// isn't in cache (an eviction worker wants *some* candidate near this
// position, not necessarily the exact one); ordinary lookups should pass
// false and get ErrNotFound instead of a surprising substitution.
func FromNpos(t Tree, npos float64, evictionWalk bool) (Ref, error) {
	ref := t.Root()
	for {
		if t.IsLeaf(ref) {
			return ref, nil
		}
		n := t.NumChildren(ref)
		if n == 0 {
			return ref, nil
		}
		scaled := npos * float64(n)
		i := int(scaled)
		if i >= n {
			i = n - 1
		}
		child := t.Child(ref, i)
		if !t.Resident(child) {
			if !evictionWalk {
				return nil, ErrNotFound
			}
			found, ok := nearestResidentSibling(t, ref, i, n)
			if !ok {
				return nil, ErrNotFound
			}
			return found, nil
		}
		npos = scaled - float64(i)
		ref = child
	}
}

// nearestResidentSibling scans outward from index i for a resident child,
// alternating right/left, the simplest fair tie-break for "nearest".
func nearestResidentSibling(t Tree, parent Ref, i, n int) (Ref, bool) {
	for d := 1; d < n; d++ {
		if i+d < n {
			if c := t.Child(parent, i+d); t.Resident(c) {
				return c, true
			}
		}
		if i-d >= 0 {
			if c := t.Child(parent, i-d); t.Resident(c) {
				return c, true
			}
		}
	}
	return nil, false
}

// PageTree is the real implementor the comment above promises: it walks a
// tree of page.Page/page.ChildRef the way internal/cursor's descend does,
// letting the eviction supervisor (pool.go) and cursor's own tree share
// one notion of "resident" instead of the walk only ever running against
// a synthetic test tree. A child not yet paged into memory has no
// page.Page to inspect, so NumChildren/IsLeaf are only ever called on a
// ref already confirmed Resident by the walk above.
type PageTree struct {
	Root_ *page.Page
}

// pageRef is PageTree's Ref: the child's page image when resident, plus
// its ChildRef for Resident's nil check when it isn't.
type pageRef struct {
	p   *page.Page
	ref *page.ChildRef
}

func (t PageTree) Root() Ref { return pageRef{p: t.Root_} }

func (t PageTree) NumChildren(ref Ref) int {
	return len(ref.(pageRef).p.Children)
}

func (t PageTree) Child(ref Ref, i int) Ref {
	ch := &ref.(pageRef).p.Children[i]
	return pageRef{p: ch.Page, ref: ch}
}

func (t PageTree) IsLeaf(ref Ref) bool {
	return ref.(pageRef).p.Kind != page.RowInt
}

func (t PageTree) Resident(ref Ref) bool {
	return ref.(pageRef).p != nil
}
