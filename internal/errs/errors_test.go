package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := New(IllegalState, "bound is closed").On(`Bound "wing"`)
	assert.Equal(t, `ILLEGAL_STATE: bound is closed (Bound "wing")`, err.Error())

	wrapped := Wrap(Internal, errors.New("disk full"), "write record")
	assert.Equal(t, "INTERNAL: write record: disk full", wrapped.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, Internal, CodeOf(errors.New("plain")))
	assert.Equal(t, NotFound, CodeOf(New(NotFound, "missing")))

	// Codes survive fmt wrapping
	err := fmt.Errorf("get data: %w", New(StillDirty, "analysis dirty"))
	assert.Equal(t, StillDirty, CodeOf(err))
	assert.True(t, Is(err, StillDirty))
	assert.False(t, Is(err, NotFound))
}

func TestFatal(t *testing.T) {
	assert.True(t, JournalCorrupt.Fatal())
	assert.False(t, StillDirty.Fatal())
	assert.True(t, IsFatal(fmt.Errorf("replay: %w", New(JournalCorrupt, "window mismatch"))))
	assert.False(t, IsFatal(nil))
}

func TestDiagnostics_DrainClears(t *testing.T) {
	var d Diagnostics
	d.AddError(New(NotFound, "point 3 not located").On(`DataSet "Pressure"`).With("u=0.5 v=1.2"))
	d.Addf(StillDirty, `Analysis "aero"`, "transitively dirty via %q", "struct")
	d.AddError(nil)

	require.Equal(t, 2, d.Len())
	got := d.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, NotFound, got[0].Code)
	assert.Equal(t, []string{"point 3 not located", "u=0.5 v=1.2"}, got[0].Lines)
	assert.Equal(t, `Analysis "aero"`, got[1].Entity)

	// Second drain is empty, not nil
	again := d.Drain()
	assert.NotNil(t, again)
	assert.Empty(t, again)
}
