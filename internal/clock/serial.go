// Package clock provides the Problem-wide serial clock.
//
// Every committed mutation takes exactly one number from the clock and
// stamps the entities it touched with it. Reads never advance the clock.
// Comparing stamps against each other is the whole staleness mechanism:
// an artifact is out of date when something it depends on carries a
// larger serial number than the pass that produced it.
//
// Wall-clock time is recorded on stamps for audit only and is never used
// for ordering.
package clock

import "sync/atomic"

// Serial is a monotonic serial-number clock.
//
// The Problem that owns a Serial is single-writer; the atomic counter only
// keeps Current() safe for concurrent readers such as metrics scrapes.
type Serial struct {
	n atomic.Int64
}

// NewSerial creates a clock starting at 0.
func NewSerial() *Serial {
	return &Serial{}
}

// NewSerialAt creates a clock starting at a specific serial number.
// Used on restart to resume from the checkpointed position.
func NewSerialAt(start int64) *Serial {
	s := &Serial{}
	s.n.Store(start)
	return s
}

// Next advances the clock and returns the new serial number.
func (s *Serial) Next() int64 {
	return s.n.Add(1)
}

// Current returns the current serial number without advancing.
func (s *Serial) Current() int64 {
	return s.n.Load()
}

// Window is the clock span covered by one operation.
type Window struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// Mutated reports whether the operation committed at least one mutation.
func (w Window) Mutated() bool {
	return w.After > w.Before
}
