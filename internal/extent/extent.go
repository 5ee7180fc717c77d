// Package extent implements the in-memory free list (spec component C4):
// an ordered set of free byte ranges within one file, merge-on-free,
// first-fit/best-fit allocation, kept consistent under two orderings
// (by offset, for coalescing; by size, for allocation).
//
// The teacher (FiloDB) keeps its free list as a linked chain of on-disk
// list nodes with no size index at all (filodb_memory.go); spec.md asks
// for the richer two-index extent list WiredTiger's block manager actually
// uses. List keeps no arena of pre-allocated nodes the way the teacher
// does to keep malloc off the hot alloc-during-write path; it
// maintains both the offset and size orderings explicitly, each as a
// sorted slice rather than a literal multi-level skip list — see
// DESIGN.md for why a slice is the pragmatic Go substitute here (the
// literal skip list is instead implemented, and property-tested, where
// spec.md's P8 actually requires one: internal/page's insert lists).
package extent

import "sort"

// Extent is one free byte range [Offset, Offset+Size).
type Extent struct {
	Offset uint64
	Size   uint64
}

// List maintains the free-extent set for one file. Not safe for concurrent
// use without external locking (the block manager holds a per-file
// spinlock around alloc/free, per spec.md §5 "live_lock").
type List struct {
	byOffset []Extent // sorted by Offset, no two entries overlap or abut
	byFit    []Extent // sorted by Size then Offset, for best-fit allocation
}

// New returns an empty free list. Slices grow from nil in batches via
// Go's append, the same amortized-allocation effect the teacher's
// FreeList arena comment in filodb_memory.go is chasing by hand.
func New() *List { return &List{} }

// Len returns the number of distinct free extents.
func (l *List) Len() int { return len(l.byOffset) }

// Total returns the sum of all free bytes.
func (l *List) Total() uint64 {
	var total uint64
	for _, e := range l.byOffset {
		total += e.Size
	}
	return total
}

// Alloc finds a free extent able to hold size bytes, splits it if larger,
// and returns its offset. bestFit selects the smallest adequate extent
// (used for compaction); otherwise the first adequate extent by offset is
// used, which is WiredTiger's default fast path.
func (l *List) Alloc(size uint64, bestFit bool) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	var idx int
	var found Extent
	ok := false
	if bestFit {
		idx = sort.Search(len(l.byFit), func(i int) bool { return l.byFit[i].Size >= size })
		if idx < len(l.byFit) {
			found, ok = l.byFit[idx], true
		}
	} else {
		for i, e := range l.byOffset {
			if e.Size >= size {
				idx, found, ok = i, e, true
				break
			}
		}
	}
	if !ok {
		return 0, false
	}

	l.removeExact(found)
	offset := found.Offset
	if found.Size > size {
		l.insertNoMerge(Extent{Offset: found.Offset + size, Size: found.Size - size})
	}
	return offset, true
}

// Insert adds a newly-freed range back to the list, merging it with any
// abutting neighbor on either side (spec.md §4.4 insert()).
func (l *List) Insert(offset, size uint64) {
	if size == 0 {
		return
	}
	merged := Extent{Offset: offset, Size: size}

	// left neighbor: ends exactly at merged.Offset
	if i, ok := l.findEndingAt(merged.Offset); ok {
		left := l.byOffset[i]
		merged.Offset = left.Offset
		merged.Size += left.Size
		l.removeExact(left)
	}
	// right neighbor: starts exactly at merged end
	if i, ok := l.findStartingAt(merged.Offset + merged.Size); ok {
		right := l.byOffset[i]
		merged.Size += right.Size
		l.removeExact(right)
	}
	l.insertNoMerge(merged)
}

// RemoveOverlap deletes (or shrinks) any extents overlapping
// [offset, offset+size), used by salvage when a range turns out to
// belong to a live page (spec.md §4.4 remove_overlap).
func (l *List) RemoveOverlap(offset, size uint64) {
	end := offset + size
	var keep []Extent
	for _, e := range l.byOffset {
		eEnd := e.Offset + e.Size
		switch {
		case eEnd <= offset || e.Offset >= end:
			keep = append(keep, e) // no overlap
		case e.Offset < offset && eEnd > end:
			keep = append(keep, Extent{Offset: e.Offset, Size: offset - e.Offset})
			keep = append(keep, Extent{Offset: end, Size: eEnd - end})
		case e.Offset < offset:
			keep = append(keep, Extent{Offset: e.Offset, Size: offset - e.Offset})
		case eEnd > end:
			keep = append(keep, Extent{Offset: end, Size: eEnd - end})
		// else: fully contained, dropped
		}
	}
	l.byOffset = l.byOffset[:0]
	l.byFit = l.byFit[:0]
	for _, e := range keep {
		l.insertNoMerge(e)
	}
}

// All returns a defensive copy of the free extents ordered by offset, used
// to persist the avail list at checkpoint (spec.md §4.3 checkpoint()).
func (l *List) All() []Extent {
	out := make([]Extent, len(l.byOffset))
	copy(out, l.byOffset)
	return out
}

func (l *List) findEndingAt(offset uint64) (int, bool) {
	for i, e := range l.byOffset {
		if e.Offset+e.Size == offset {
			return i, true
		}
	}
	return 0, false
}

func (l *List) findStartingAt(offset uint64) (int, bool) {
	for i, e := range l.byOffset {
		if e.Offset == offset {
			return i, true
		}
	}
	return 0, false
}

func (l *List) removeExact(e Extent) {
	for i, o := range l.byOffset {
		if o == e {
			l.byOffset = append(l.byOffset[:i], l.byOffset[i+1:]...)
			break
		}
	}
	for i, o := range l.byFit {
		if o == e {
			l.byFit = append(l.byFit[:i], l.byFit[i+1:]...)
			break
		}
	}
}

func (l *List) insertNoMerge(e Extent) {
	i := sort.Search(len(l.byOffset), func(i int) bool { return l.byOffset[i].Offset >= e.Offset })
	l.byOffset = append(l.byOffset, Extent{})
	copy(l.byOffset[i+1:], l.byOffset[i:])
	l.byOffset[i] = e

	j := sort.Search(len(l.byFit), func(j int) bool {
		if l.byFit[j].Size != e.Size {
			return l.byFit[j].Size > e.Size
		}
		return l.byFit[j].Offset >= e.Offset
	})
	l.byFit = append(l.byFit, Extent{})
	copy(l.byFit[j+1:], l.byFit[j:])
	l.byFit[j] = e
}
