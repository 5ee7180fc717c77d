// Package reconcile turns a dirty in-memory page into one or more on-disk
// block images (spec component C6): spec.md §4.6's snapshot / build /
// overflow / split / write / publish pipeline.
//
// Grounded on the teacher's filodb_btree.go treeInsert/nodeSplit3/
// nodeAppendKV (the "pack keys into a fixed-size node, cut and start a new
// node when the budget is exceeded" shape) generalized from FiloDB's
// single-threshold whole-node rewrite to spec.md's three knobs
// (leaf/internal page max and a separate overflow threshold) and to the
// update-chain visibility-horizon snapshot FiloDB has no equivalent for.
package reconcile

import (
	"encoding/binary"
	"fmt"

	"github.com/wtstore/wtstore/internal/addr"
	"github.com/wtstore/wtstore/internal/block"
	"github.com/wtstore/wtstore/internal/page"
)

// Config holds the size knobs spec.md §4.6 step 3/4 derive from allocsize
// and leaf_page_max.
type Config struct {
	LeafPageMax       int
	InternalPageMax   int
	OverflowThreshold int // a value longer than this is spilled to its own block; keys are never spilled
}

// DefaultConfig mirrors WiredTiger's common defaults: 32KB leaf pages, a
// quarter of that as the overflow cutoff.
func DefaultConfig() Config {
	return Config{
		LeafPageMax:       32 * 1024,
		InternalPageMax:   16 * 1024,
		OverflowThreshold: 8 * 1024,
	}
}

// Image is one reconciled on-disk block: its first key (what the parent
// indexes it by after a split) and the address it was written to.
type Image struct {
	FirstKey []byte
	Cookie   addr.Cookie
}

// Result is what Reconcile hands back for the caller to publish into the
// parent (step 6): either a single image (no split), or zero (the page
// reconciled to empty and its ref should become DELETED). When a leaf
// outgrows a single block and no update was deferred, Reconcile itself
// builds the new internal page one level up and returns it as NewRoot;
// Images then names exactly one cookie — the newly built parent's. A
// split leaf with deferred updates returns one image per child and no
// NewRoot. An internal page is always written as a single block.
type Result struct {
	Images   []Image
	Deferred *page.Page // non-nil when updates newer than the horizon remain; replaces p in cache
	NewRoot  *page.Page // non-nil when p split and needed a new parent above it
}

// cellEntry is one key built for an image, after overflow spilling.
type cellEntry struct {
	key       []byte
	value     []byte
	tombstone bool
	overflow  bool // value itself already replaced by an overflow cookie
}

// prefixCompress replaces each entry's key with its suffix past the byte
// count shared with the previous entry's full key (spec.md §4.5: "prefix
// is never used when the previous key is itself overflow," hence the
// reset after an overflow key), returning the per-entry prefix lengths
// alongside the now-truncated keys.
func prefixCompress(entries []cellEntry) []uint16 {
	prefixLens := make([]uint16, len(entries))
	var prevFull []byte
	for i := range entries {
		full := entries[i].key
		if prevFull != nil {
			_, matched := compareShared(prevFull, full)
			prefixLens[i] = uint16(matched)
			entries[i].key = full[matched:]
		}
		if entries[i].overflow {
			prevFull = nil
		} else {
			prevFull = full
		}
	}
	return prefixLens
}

func compareShared(a, b []byte) (cmp int, matched int) {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	matched = i
	switch {
	case i == len(a) && i == len(b):
		return 0, matched
	case i == len(a):
		return -1, matched
	case i == len(b):
		return 1, matched
	default:
		if a[i] < b[i] {
			return -1, matched
		}
		return 1, matched
	}
}

// Reconcile serializes p's visible-as-of-horizon state into one or more
// block images, allocating and writing each through mgr. horizon is a
// commit timestamp: updates with CommitTS > horizon are deferred rather
// than reconciled (step 1). p may be a row-store leaf or, recursing down
// from a multi-level tree's root, a row-store internal page.
func Reconcile(p *page.Page, mgr *block.Manager, horizon uint64, cfg Config) (*Result, error) {
	switch p.Kind {
	case page.RowLeaf:
		return reconcileLeaf(p, mgr, horizon, cfg)
	case page.RowInt:
		return reconcileInternal(p, mgr, horizon, cfg)
	default:
		return nil, fmt.Errorf("reconcile: unsupported page kind %s", p.Kind)
	}
}

// reconcileLeaf is steps 1-6 for a row-store leaf. When the leaf's visible
// content no longer fits one block (step 4's split), step 6 ("publish to
// parent") builds the new internal page directly: spec.md §4.6 describes
// publishing into an existing parent, but a leaf reconciled here has none
// yet (checkpoint only ever calls Reconcile on a Handle's root), so the
// new internal page it builds becomes the tree's root.
func reconcileLeaf(p *page.Page, mgr *block.Manager, horizon uint64, cfg Config) (*Result, error) {
	entries, deferred := snapshotAndBuild(p, horizon)

	entries, err := spillOverflow(entries, mgr, cfg.OverflowThreshold)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		var deferredPage *page.Page
		if deferred {
			deferredPage = p
		}
		return &Result{Deferred: deferredPage}, nil
	}

	chunks := split(entries, cfg.LeafPageMax)

	images := make([]Image, 0, len(chunks))
	children := make([]*page.Page, 0, len(chunks))
	for _, chunk := range chunks {
		firstKey := chunk[0].key
		prefixLens := prefixCompress(chunk)
		buf := encodeLeafImage(chunk, prefixLens)
		cookie, err := mgr.Write(buf, true)
		if err != nil {
			// Failure semantics (spec.md §4.6): roll back every extent this
			// reconciliation already allocated before surfacing the error.
			for _, img := range images {
				mgr.Free(img.Cookie)
			}
			return nil, fmt.Errorf("reconcile: write image: %w", err)
		}
		images = append(images, Image{FirstKey: firstKey, Cookie: cookie})
		if len(chunks) > 1 {
			child, err := decodeLeafImage(buf)
			if err != nil {
				return nil, fmt.Errorf("reconcile: decode freshly written image: %w", err)
			}
			children = append(children, child)
		}
	}

	// A deferred leaf stays resident wholesale (full update chains and
	// all) so a later reconcile at a higher horizon can pick up the rest;
	// that is incompatible with handing its content off to new child leaf
	// pages, so a split only publishes to a new parent when nothing was
	// deferred. A leaf that both split and deferred keeps the pre-split
	// multi-image behavior and waits for a clean reconcile to publish.
	if len(images) > 1 && !deferred {
		parent := page.NewInternal(1)
		for i, img := range images {
			parent.Children = append(parent.Children, page.ChildRef{
				Key:    img.FirstKey,
				Cookie: mgr.AddrPack(img.Cookie),
				State:  page.RefMem,
				Page:   children[i],
			})
		}
		parent.InsertHeads = make([]*page.SkipList, len(parent.Children)+1)
		for i := range parent.InsertHeads {
			parent.InsertHeads[i] = page.NewSkipList(int64(i) + 1)
		}
		buf := encodeInternalImage(parent.Children)
		cookie, err := mgr.Write(buf, true)
		if err != nil {
			for _, img := range images {
				mgr.Free(img.Cookie)
			}
			return nil, fmt.Errorf("reconcile: write internal image: %w", err)
		}
		return &Result{
			Images:  []Image{{FirstKey: images[0].FirstKey, Cookie: cookie}},
			NewRoot: parent,
		}, nil
	}

	var deferredPage *page.Page
	if deferred {
		deferredPage = p
	}
	return &Result{Images: images, Deferred: deferredPage}, nil
}

// reconcileInternal handles a Handle whose root has already grown past a
// single leaf: it recurses into every dirty resident child, folding each
// child's own split (if any) in as one more level of nesting, then
// rewrites this page if anything below it changed.
func reconcileInternal(p *page.Page, mgr *block.Manager, horizon uint64, cfg Config) (*Result, error) {
	for i := range p.Children {
		child := p.Children[i].Page
		if child == nil || !child.Dirty {
			continue
		}
		res, err := Reconcile(child, mgr, horizon, cfg)
		if err != nil {
			return nil, fmt.Errorf("reconcile: child %d: %w", i, err)
		}
		switch {
		case res.NewRoot != nil:
			p.Children[i].Page = res.NewRoot
			p.Children[i].Cookie = mgr.AddrPack(res.Images[0].Cookie)
			p.Children[i].State = page.RefMem
		case len(res.Images) == 0:
			p.Children[i].Page = nil
			p.Children[i].Cookie = nil
			p.Children[i].State = page.RefDeleted
		default:
			p.Children[i].Cookie = mgr.AddrPack(res.Images[0].Cookie)
			if res.Deferred != nil {
				p.Children[i].Page = res.Deferred
			}
			child.Dirty = false
		}
	}

	// Callers only reach here with a dirty root or a dirty resident
	// child, either of which means this page's own image is now stale.
	buf := encodeInternalImage(p.Children)
	cookie, err := mgr.Write(buf, true)
	if err != nil {
		return nil, fmt.Errorf("reconcile: write internal image: %w", err)
	}
	return &Result{Images: []Image{{FirstKey: firstChildKey(p), Cookie: cookie}}}, nil
}

func firstChildKey(p *page.Page) []byte {
	if len(p.Children) == 0 {
		return nil
	}
	return p.Children[0].Key
}

// snapshotAndBuild is steps 1-2: pick the visible update (or the on-disk
// cell) for each key in order, skipping keys whose only visible state is a
// tombstone. Returns whether any update had to be deferred past horizon.
func snapshotAndBuild(p *page.Page, horizon uint64) ([]cellEntry, bool) {
	var entries []cellEntry
	deferred := false

	emit := func(key []byte, onDiskValue []byte, chain *page.Update) {
		u, skipped := visibleAsOf(chain, horizon)
		if skipped {
			deferred = true
		}
		switch {
		case u == nil:
			if onDiskValue != nil {
				entries = append(entries, cellEntry{key: key, value: onDiskValue})
			}
		case u.Tombstone:
			// visible tombstone: the key is gone from this image.
		default:
			entries = append(entries, cellEntry{key: key, value: u.Value})
		}
	}

	for i, k := range p.Keys {
		key := p.ReconstructKeyExported(i)
		var onDisk []byte
		if !k.Overflow {
			onDisk = p.Values[i].Data
		}
		var chain *page.Update
		if i < len(p.Updates) {
			chain = p.Updates[i]
		}
		emit(key, onDisk, chain)
	}

	for _, gap := range p.InsertHeads {
		for _, key := range gap.All() {
			n, _ := gap.Search(key)
			chain, _ := n.(*page.Update)
			if chain == nil {
				continue
			}
			emit(key, nil, chain)
		}
	}

	return entries, deferred
}

// visibleAsOf walks chain and returns the newest update with CommitTS <=
// horizon, and whether any newer update had to be skipped over.
func visibleAsOf(chain *page.Update, horizon uint64) (u *page.Update, deferred bool) {
	for c := chain; c != nil; c = c.Next {
		if c.Prepared {
			deferred = true
			continue
		}
		if c.CommitTS > horizon {
			deferred = true
			continue
		}
		return c, deferred
	}
	return nil, deferred
}

// spillOverflow is step 3: any value longer than threshold is written to
// its own block and replaced by a cookie reference.
func spillOverflow(entries []cellEntry, mgr *block.Manager, threshold int) ([]cellEntry, error) {
	if threshold <= 0 {
		return entries, nil
	}
	out := make([]cellEntry, len(entries))
	for i, e := range entries {
		if len(e.value) <= threshold {
			out[i] = e
			continue
		}
		cookie, err := mgr.Write(e.value, false)
		if err != nil {
			return nil, fmt.Errorf("reconcile: write overflow value: %w", err)
		}
		out[i] = cellEntry{key: e.key, value: mgr.AddrPack(cookie), overflow: true}
	}
	return out, nil
}

// split is step 4: cut entries into images no larger than leafPageMax,
// mirroring the teacher's nodeSplit3 cut-at-the-previous-boundary rule.
func split(entries []cellEntry, leafPageMax int) [][]cellEntry {
	if leafPageMax <= 0 {
		return [][]cellEntry{entries}
	}
	var chunks [][]cellEntry
	var cur []cellEntry
	size := imageHeaderSize
	for _, e := range entries {
		add := cellSize(e)
		if len(cur) > 0 && size+add > leafPageMax {
			chunks = append(chunks, cur)
			cur = nil
			size = imageHeaderSize
		}
		cur = append(cur, e)
		size += add
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

const imageHeaderSize = 4 // entry count

func cellSize(e cellEntry) int {
	return 4 + len(e.key) + 4 + len(e.value) + 1
}

// imageKindLeaf/imageKindInternal tag a written block's first byte so
// DecodeImage knows which shape to rehydrate it as — a cursor descending
// through a multi-level tree reads both kinds off the same block manager.
const (
	imageKindLeaf     byte = 'L'
	imageKindInternal byte = 'I'
)

// encodeLeafImage is step 5's wire format: a flat list of
// (prefix_len, key_suffix, value, flags) cells, mirroring how page.Cell
// stores prefix-compressed keys in memory. The block manager's codec
// layer (checksum, optional compressor) wraps this payload; reconcile
// itself only needs a format it can decode back symmetrically (see
// DecodeImage).
func encodeLeafImage(entries []cellEntry, prefixLens []uint16) []byte {
	buf := make([]byte, 5, imageHeaderSize+64)
	buf[0] = imageKindLeaf
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(entries)))
	for i, e := range entries {
		var plBuf [2]byte
		binary.LittleEndian.PutUint16(plBuf[:], prefixLens[i])
		buf = append(buf, plBuf[:]...)
		buf = appendBytes(buf, e.key)
		buf = appendBytes(buf, e.value)
		var flags byte
		if e.tombstone {
			flags |= 1
		}
		if e.overflow {
			flags |= 2
		}
		buf = append(buf, flags)
	}
	return buf
}

// encodeInternalImage is step 5's wire format for an internal page: a
// flat list of (key, packed child cookie) pairs in child order. Unlike
// leaf cells, separator keys aren't prefix-compressed — internal pages
// are small relative to leaves (one entry per child, not per row).
func encodeInternalImage(children []page.ChildRef) []byte {
	buf := make([]byte, 5, 64)
	buf[0] = imageKindInternal
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(children)))
	for _, ch := range children {
		buf = appendBytes(buf, ch.Key)
		buf = appendBytes(buf, ch.Cookie)
	}
	return buf
}

func appendBytes(dst, b []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, b...)
	return dst
}

// DecodeImage rehydrates a block written by encodeLeafImage or
// encodeInternalImage back into a Page, dispatching on the leading kind
// byte. Used by checkpoint (verifying a durable root) and by a cursor
// descending a multi-level tree to fetch a non-resident child.
func DecodeImage(buf []byte) (*page.Page, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("reconcile: image empty")
	}
	switch buf[0] {
	case imageKindInternal:
		return decodeInternalImage(buf)
	default:
		return decodeLeafImage(buf)
	}
}

func decodeLeafImage(buf []byte) (*page.Page, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("reconcile: leaf image too short")
	}
	n := binary.LittleEndian.Uint32(buf[1:5])
	off := 5
	p := page.NewLeaf(1)
	for i := uint32(0); i < n; i++ {
		if off+2 > len(buf) {
			return nil, fmt.Errorf("reconcile: image truncated reading prefix length")
		}
		prefixLen := binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2

		key, next, err := readBytes(buf, off)
		if err != nil {
			return nil, err
		}
		off = next
		val, next, err := readBytes(buf, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off >= len(buf) {
			return nil, fmt.Errorf("reconcile: image truncated reading flags")
		}
		flags := buf[off]
		off++

		p.Keys = append(p.Keys, page.Cell{Data: key, PrefixLen: int(prefixLen), Overflow: flags&2 != 0})
		p.Values = append(p.Values, page.Cell{Data: val})
		p.Updates = append(p.Updates, nil)
		if flags&1 != 0 {
			p.Updates[len(p.Updates)-1] = &page.Update{Tombstone: true}
		}
	}
	p.InsertHeads = make([]*page.SkipList, len(p.Keys)+1)
	for i := range p.InsertHeads {
		p.InsertHeads[i] = page.NewSkipList(int64(i) + 1)
	}
	return p, nil
}

func decodeInternalImage(buf []byte) (*page.Page, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("reconcile: internal image too short")
	}
	n := binary.LittleEndian.Uint32(buf[1:5])
	off := 5
	p := page.NewInternal(1)
	for i := uint32(0); i < n; i++ {
		key, next, err := readBytes(buf, off)
		if err != nil {
			return nil, err
		}
		off = next
		cookie, next, err := readBytes(buf, off)
		if err != nil {
			return nil, err
		}
		off = next
		p.Children = append(p.Children, page.ChildRef{Key: key, Cookie: cookie, State: page.RefDisk})
	}
	p.InsertHeads = make([]*page.SkipList, len(p.Children)+1)
	for i := range p.InsertHeads {
		p.InsertHeads[i] = page.NewSkipList(int64(i) + 1)
	}
	return p, nil
}

func readBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, 0, fmt.Errorf("reconcile: image truncated reading length")
	}
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if off+n > len(buf) {
		return nil, 0, fmt.Errorf("reconcile: image truncated reading %d bytes", n)
	}
	return buf[off : off+n], off + n, nil
}
