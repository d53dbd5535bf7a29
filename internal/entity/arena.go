package entity

import (
	"slices"

	"github.com/roach88/caps/internal/errs"
)

type slot[T any] struct {
	gen  uint32
	live bool
	hdr  Header
	val  T
}

// Arena owns every entity of one Problem.
//
// Not safe for concurrent use; the owning Problem is single-writer.
type Arena[T any] struct {
	slots   []slot[T]
	free    []uint32 // freed indices, reused LIFO
	live    int
	changed map[uint32]struct{}
}

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Create allocates a slot, stores the payload and returns its handle.
func (a *Arena[T]) Create(kind Kind, parent Handle, name string, val T, stamp Stamp) Handle {
	hdr := Header{Kind: kind, Parent: parent, Name: name, Last: stamp}

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.gen++
		s.live = true
		s.hdr = hdr
		s.val = val
		a.live++
		a.markIndex(idx)
		return Handle{Index: idx, Gen: s.gen}
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{gen: 1, live: true, hdr: hdr, val: val})
	a.live++
	a.markIndex(idx)
	return Handle{Index: idx, Gen: 1}
}

// lookup validates a handle without checking the kind.
func (a *Arena[T]) lookup(h Handle) (*slot[T], error) {
	if h.IsNull() {
		return nil, errs.New(errs.NullReference, "null handle")
	}
	if int(h.Index) >= len(a.slots) {
		return nil, errs.New(errs.InvalidHandle, "handle %s out of range", h)
	}
	s := &a.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return nil, errs.New(errs.InvalidHandle, "handle %s is stale", h)
	}
	return s, nil
}

// Check validates the handle and, when kind is non-zero, its kind.
func (a *Arena[T]) Check(h Handle, kind Kind) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	if kind != 0 && s.hdr.Kind != kind {
		return errs.New(errs.WrongKind, "handle %s is a %s, want %s", h, s.hdr.Kind, kind).On(s.hdr.Label())
	}
	return nil
}

// Get returns the payload and header of a live entity of the given kind.
// A zero kind accepts any kind.
func (a *Arena[T]) Get(h Handle, kind Kind) (T, *Header, error) {
	var zero T
	if err := a.Check(h, kind); err != nil {
		return zero, nil, err
	}
	s := &a.slots[h.Index]
	return s.val, &s.hdr, nil
}

// Header returns the header of any live entity.
func (a *Arena[T]) Header(h Handle) (*Header, error) {
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return &s.hdr, nil
}

// Valid reports whether h references a live entity.
func (a *Arena[T]) Valid(h Handle) bool {
	_, err := a.lookup(h)
	return err == nil
}

// Destroy clears the payload and invalidates the slot.
// Destroying a null, stale or out-of-range handle is a no-op.
func (a *Arena[T]) Destroy(h Handle) error {
	s, err := a.lookup(h)
	if err != nil {
		return nil
	}
	var zero T
	s.val = zero
	s.hdr = Header{}
	s.live = false
	a.free = append(a.free, h.Index)
	a.live--
	a.markIndex(h.Index)
	return nil
}

// Len returns the number of live entities.
func (a *Arena[T]) Len() int {
	return a.live
}

// Capacity returns the number of slots ever allocated.
// Any walk over entity references longer than this must have cycled.
func (a *Arena[T]) Capacity() int {
	return len(a.slots)
}

// Each calls fn for every live entity in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(h Handle, hdr *Header, val T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, &s.hdr, s.val) {
			return
		}
	}
}

// SlotState is the persisted form of one slot.
type SlotState[T any] struct {
	Gen    uint32 `json:"gen"`
	Live   bool   `json:"live"`
	Header Header `json:"header"`
	Value  T      `json:"value"`
}

// State is the persisted form of an arena.
type State[T any] struct {
	Slots []SlotState[T] `json:"slots"`
	Free  []uint32       `json:"free"`
}

// Snapshot copies the arena into its persisted form.
// Payloads are copied by value; pointer payloads are shared.
func (a *Arena[T]) Snapshot() State[T] {
	st := State[T]{
		Slots: make([]SlotState[T], len(a.slots)),
		Free:  append([]uint32{}, a.free...),
	}
	for i, s := range a.slots {
		st.Slots[i] = SlotState[T]{Gen: s.gen, Live: s.live, Header: s.hdr, Value: s.val}
	}
	return st
}

// RestoreArena rebuilds an arena from its persisted form so that every
// handle valid at snapshot time is valid again.
func RestoreArena[T any](st State[T]) *Arena[T] {
	a := &Arena[T]{
		slots: make([]slot[T], len(st.Slots)),
		free:  append([]uint32{}, st.Free...),
	}
	for i, s := range st.Slots {
		a.slots[i] = slot[T]{gen: s.Gen, live: s.Live, hdr: s.Header, val: s.Value}
		if s.Live {
			a.live++
		}
	}
	return a
}

// Mark records that the entity's header or payload changed. Create and
// Destroy mark implicitly.
func (a *Arena[T]) Mark(h Handle) {
	if a.Valid(h) {
		a.markIndex(h.Index)
	}
}

func (a *Arena[T]) markIndex(idx uint32) {
	if a.changed == nil {
		a.changed = make(map[uint32]struct{})
	}
	a.changed[idx] = struct{}{}
}

// Changes returns the indices marked since the last ResetChanges, sorted.
func (a *Arena[T]) Changes() []uint32 {
	out := make([]uint32, 0, len(a.changed))
	for idx := range a.changed {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// ResetChanges clears the change set.
func (a *Arena[T]) ResetChanges() {
	clear(a.changed)
}

// Slot returns the persisted form of one slot, live or not.
func (a *Arena[T]) Slot(idx uint32) (SlotState[T], error) {
	if int(idx) >= len(a.slots) {
		return SlotState[T]{}, errs.New(errs.RangeError, "slot %d out of range", idx)
	}
	s := a.slots[idx]
	return SlotState[T]{Gen: s.gen, Live: s.live, Header: s.hdr, Value: s.val}, nil
}

// Free returns the free list in reuse order (last entry reused first).
func (a *Arena[T]) Free() []uint32 {
	return append([]uint32{}, a.free...)
}

// Install overwrites slot idx with a recorded state. idx may be at most one
// past the last slot, which appends. Use SetFree afterwards to bring the
// free list in line with the installed slots.
func (a *Arena[T]) Install(idx uint32, st SlotState[T]) error {
	switch {
	case int(idx) == len(a.slots):
		a.slots = append(a.slots, slot[T]{})
	case int(idx) > len(a.slots):
		return errs.New(errs.RangeError, "install slot %d past end %d", idx, len(a.slots))
	}
	s := &a.slots[idx]
	if s.live {
		a.live--
	}
	*s = slot[T]{gen: st.Gen, live: st.Live, hdr: st.Header, val: st.Value}
	if s.live {
		a.live++
	}
	a.markIndex(idx)
	return nil
}

// SetFree replaces the free list. Every entry must name a dead slot.
func (a *Arena[T]) SetFree(free []uint32) error {
	for _, idx := range free {
		if int(idx) >= len(a.slots) || a.slots[idx].live {
			return errs.New(errs.RangeError, "free list names live or missing slot %d", idx)
		}
	}
	a.free = append([]uint32{}, free...)
	return nil
}
