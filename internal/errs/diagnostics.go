package errs

import (
	"errors"
	"fmt"
)

// Diagnostic is one reported condition with its multi-line detail.
type Diagnostic struct {
	Code   Code     `json:"code"`
	Entity string   `json:"entity,omitempty"`
	Lines  []string `json:"lines"`
}

// String renders the diagnostic on one line per detail.
func (d Diagnostic) String() string {
	s := string(d.Code)
	if d.Entity != "" {
		s += " " + d.Entity
	}
	for _, l := range d.Lines {
		s += "\n  " + l
	}
	return s
}

// Diagnostics accumulates reports for one top-level call.
// Entries are cleared once drained.
type Diagnostics struct {
	entries []Diagnostic
}

// Add records a diagnostic.
func (d *Diagnostics) Add(code Code, entity string, lines ...string) {
	d.entries = append(d.entries, Diagnostic{Code: code, Entity: entity, Lines: lines})
}

// Addf records a single-line diagnostic.
func (d *Diagnostics) Addf(code Code, entity, format string, args ...any) {
	d.Add(code, entity, fmt.Sprintf(format, args...))
}

// AddError records an error, keeping its attached lines.
// A nil error is ignored.
func (d *Diagnostics) AddError(err error) {
	if err == nil {
		return
	}
	var e *Error
	if errors.As(err, &e) {
		lines := append([]string{e.Message}, e.Lines...)
		d.Add(e.Code, e.Entity, lines...)
		return
	}
	d.Add(Internal, "", err.Error())
}

// Len returns the number of pending diagnostics.
func (d *Diagnostics) Len() int {
	return len(d.entries)
}

// Reset discards pending diagnostics.
func (d *Diagnostics) Reset() {
	d.entries = nil
}

// Drain returns the pending diagnostics and clears them.
// Returns an empty slice (not nil) when nothing is pending.
func (d *Diagnostics) Drain() []Diagnostic {
	out := d.entries
	d.entries = nil
	if out == nil {
		out = []Diagnostic{}
	}
	return out
}

// Peek returns a copy of the pending diagnostics without clearing them.
func (d *Diagnostics) Peek() []Diagnostic {
	return append([]Diagnostic{}, d.entries...)
}

// Replace sets the pending diagnostics.
func (d *Diagnostics) Replace(entries []Diagnostic) {
	d.entries = append([]Diagnostic(nil), entries...)
}
