package cache

import "sync"

// hazardEntry is one (ref, generation) claim: "this session still uses
// this page as of this generation". Generation separates "the page I
// meant" from a different page that later reused the same ref slot.
type hazardEntry struct {
	ref        Ref
	generation uint64
}

// HazardTable is the per-connection registry of all sessions' hazard
// pointers (spec.md §4.7): a page's memory may be freed by eviction only
// when no stack references its ref at its current generation.
type HazardTable struct {
	mu      sync.Mutex
	stacks  map[uint64][]hazardEntry // sessionID -> stack
	current map[Ref]uint64           // ref -> current generation, bumped when the page is replaced
}

// NewHazardTable returns an empty table.
func NewHazardTable() *HazardTable {
	return &HazardTable{
		stacks:  map[uint64][]hazardEntry{},
		current: map[Ref]uint64{},
	}
}

// Generation returns ref's current generation (0 if never bumped).
func (h *HazardTable) Generation(ref Ref) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current[ref]
}

// Bump advances ref's generation, invalidating any hazard pointer taken
// against an earlier generation (used when a ref's page is replaced,
// e.g. after reconciliation swaps in a new in-memory image).
func (h *HazardTable) Bump(ref Ref) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current[ref]++
	return h.current[ref]
}

// Push declares that sessionID is about to dereference ref at generation
// gen, returning gen so the caller can later call Pop with the same
// value (or re-derive it from Generation if it doesn't cache it).
func (h *HazardTable) Push(sessionID uint64, ref Ref) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	gen := h.current[ref]
	h.stacks[sessionID] = append(h.stacks[sessionID], hazardEntry{ref: ref, generation: gen})
	return gen
}

// Pop releases sessionID's most recent claim on ref.
func (h *HazardTable) Pop(sessionID uint64, ref Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stack := h.stacks[sessionID]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].ref == ref {
			h.stacks[sessionID] = append(stack[:i], stack[i+1:]...)
			return
		}
	}
}

// CanFree reports whether ref, at its generation as of the call, is free
// of any session's hazard pointer — the gate eviction must pass before
// releasing a page's memory (P9: a page whose memory was freed is never
// subsequently dereferenced).
func (h *HazardTable) CanFree(ref Ref) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	gen := h.current[ref]
	for _, stack := range h.stacks {
		for _, e := range stack {
			if e.ref == ref && e.generation == gen {
				return false
			}
		}
	}
	return true
}
