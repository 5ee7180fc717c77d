package page

import (
	"bytes"
	"fmt"
)

// Kind identifies a page's on-disk/in-memory layout, per spec.md §3.
type Kind uint8

const (
	RowInt Kind = iota + 1
	RowLeaf
	ColFix
	ColVar
	ColInt
	Ovfl
)

func (k Kind) String() string {
	switch k {
	case RowInt:
		return "ROW_INT"
	case RowLeaf:
		return "ROW_LEAF"
	case ColFix:
		return "COL_FIX"
	case ColVar:
		return "COL_VAR"
	case ColInt:
		return "COL_INT"
	case Ovfl:
		return "OVFL"
	default:
		return "UNKNOWN"
	}
}

// Update is one version in a key's update chain (spec.md §3's "Update
// chain"): newest version first, each carrying the transaction and
// timestamp metadata a snapshot read needs to decide visibility. Visibility
// itself is decided by internal/txn, which only needs TxnID/CommitTS —
// keeping that logic out of this package avoids a page<->txn import cycle.
type Update struct {
	TxnID     uint64
	CommitTS  uint64
	DurableTS uint64
	Value     []byte // nil && Tombstone == deletion
	Tombstone bool
	Prepared  bool
	Next      *Update
}

// Cell is one on-disk row-store key or value, with optional prefix
// compression (keys only) or overflow reference.
type Cell struct {
	Data          []byte // full bytes when PrefixLen == 0 and !Overflow
	PrefixLen     int    // bytes shared with the previous on-disk key; 0 when the previous key is itself overflow
	Overflow      bool
	OverflowCookie []byte // packed address.Cookie when Overflow is true
}

// ChildRef is one internal-page entry: the separator key that routes to a
// child, and the child's on-disk address (nil when the child is only
// in-memory / deleted).
type ChildRef struct {
	Key    []byte
	Cookie []byte // packed address.Cookie; empty when the child has never been written
	State  RefState
	Page   *Page // resident in-memory image; nil when the child must be read from disk
}

// RefState is the small state machine spec.md §3 describes for a page ref.
type RefState uint8

const (
	RefDisk RefState = iota
	RefMem
	RefLocked
	RefDeleted
	RefSplit
	RefLimbo
)

// Page is the in-memory image of one B-tree node. Row-store leaves carry
// on-disk keys/values plus the insert lists and update chains that hold
// runtime mutations until reconciliation; row-store internal pages carry
// child refs with their own insert list for newly-created children from a
// split.
type Page struct {
	Kind Kind
	Dirty bool

	// Row-store leaf fields.
	Keys    []Cell
	Values  []Cell
	Updates []*Update // one slot per Keys entry; nil means "on-disk value only"

	// Row-store internal fields.
	Children []ChildRef

	// InsertHeads holds len(Keys)+1 (leaf) or len(Children)+1 (internal)
	// skip lists: InsertHeads[0] is the leading gap (before the first
	// on-disk key), InsertHeads[i+1] is the gap after Keys[i]/Children[i].
	InsertHeads []*SkipList
}

// NewLeaf returns an empty row-store leaf page ready to take inserts.
func NewLeaf(seed int64) *Page {
	return &Page{
		Kind:        RowLeaf,
		InsertHeads: []*SkipList{NewSkipList(seed)},
	}
}

// NewInternal returns an empty row-store internal page.
func NewInternal(seed int64) *Page {
	return &Page{
		Kind:        RowInt,
		InsertHeads: []*SkipList{NewSkipList(seed)},
	}
}

// gapForSlot returns the InsertHeads list holding keys strictly between
// on-disk slots afterOnDiskSlot-1 and afterOnDiskSlot (gapForSlot(0) is
// the leading gap).
func (p *Page) gapForSlot(afterOnDiskSlot int) *SkipList {
	return p.InsertHeads[afterOnDiskSlot]
}

// ChildSlot does the internal-page descent step spec.md §4.8 describes:
// binary search over child separator keys to choose which child a search
// for key should follow. Each ChildRef's Key is its child's smallest key,
// so the answer is the rightmost child whose Key is <= key.
func (p *Page) ChildSlot(key []byte) int {
	if p.Kind != RowInt {
		panic("page: ChildSlot called on non-internal page")
	}
	lo, hi := 0, len(p.Children)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(key, p.Children[mid].Key) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// Search does the leaf search spec.md §4.8 describes: binary search over
// on-disk keys to find the bracketing slot, then search_insert on that
// gap's skip list. Returns the update chain head for key (nil if absent)
// and compare ({-1,0,+1}) the way a cursor reports position.
func (p *Page) Search(key []byte) (onDiskSlot int, insertVal any, chain *Update, compare int) {
	if p.Kind != RowLeaf {
		panic("page: Search called on non-leaf page")
	}
	lo, hi := 0, len(p.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		full := p.reconstructKey(mid)
		switch bytes.Compare(key, full) {
		case 0:
			return mid, nil, p.Updates[mid], 0
		case -1:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	// lo is the on-disk slot key would occupy; search its leading gap.
	gap := p.gapForSlot(lo)
	if v, ok := gap.Search(key); ok {
		return lo, v, v.(*Update), 0
	}
	// Not found on-disk or in the insert list; report the bracketing
	// compare result against the next on-disk key, if any.
	if lo < len(p.Keys) {
		full := p.reconstructKey(lo)
		return lo, nil, nil, bytes.Compare(key, full)
	}
	return lo, nil, nil, 1 // key is past every on-disk entry
}

// ReconstructKeyExported expands on-disk slot i's full key bytes,
// undoing prefix compression. Exported for callers (cursor, reconcile)
// outside this package that need a slot's full key.
func (p *Page) ReconstructKeyExported(i int) []byte { return p.reconstructKey(i) }

// reconstructKey expands slot i's prefix-compressed bytes against slot
// i-1, recursively if the chain of compression runs deeper than one slot.
func (p *Page) reconstructKey(i int) []byte {
	c := p.Keys[i]
	if c.PrefixLen == 0 {
		return c.Data
	}
	prev := p.reconstructKey(i - 1)
	out := make([]byte, 0, c.PrefixLen+len(c.Data))
	out = append(out, prev[:c.PrefixLen]...)
	out = append(out, c.Data...)
	return out
}

// InsertKey installs a brand-new key (one not present on-disk) into the
// correct gap's insert list, creating its update chain head with upd as
// the first version.
func (p *Page) InsertKey(key []byte, upd *Update) (existed bool) {
	if p.Kind != RowLeaf {
		panic("page: InsertKey called on non-leaf page")
	}
	_, _, chain, cmp := p.Search(key)
	if chain != nil {
		return true
	}
	if cmp == 0 {
		return true
	}
	lo := 0
	hi := len(p.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(key, p.reconstructKey(mid)) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	gap := p.gapForSlot(lo)
	_, existed = gap.GetOrInsert(key, upd)
	p.Dirty = true
	return existed
}

// UpdateOnDisk pushes upd onto the update chain for on-disk slot i.
func (p *Page) UpdateOnDisk(i int, upd *Update) error {
	if i < 0 || i >= len(p.Updates) {
		return fmt.Errorf("page: slot %d out of range", i)
	}
	upd.Next = p.Updates[i]
	p.Updates[i] = upd
	p.Dirty = true
	return nil
}

// MemSize estimates this page's resident byte footprint for cache
// accounting (spec.md §4.7's three budget counters).
func (p *Page) MemSize() int {
	size := 0
	for _, c := range p.Keys {
		size += len(c.Data)
	}
	for _, c := range p.Values {
		size += len(c.Data)
	}
	for _, u := range p.Updates {
		for ; u != nil; u = u.Next {
			size += len(u.Value) + 32
		}
	}
	for _, ch := range p.Children {
		size += len(ch.Key) + len(ch.Cookie) + 16
	}
	for _, h := range p.InsertHeads {
		for _, k := range h.All() {
			size += len(k) + 48
		}
	}
	return size
}
