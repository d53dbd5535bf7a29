package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/errs"
)

func TestConvert(t *testing.T) {
	c := New()
	defer c.Close()

	tests := []struct {
		v        float64
		from, to string
		want     float64
	}{
		{1, "m", "mm", 1000},
		{12, "in", "ft", 1},
		{1, "kg/m^3", "g/cm^3", 1e-3},
		{1, "N*m", "J", 1},
		{1, "MPa", "Pa", 1e6},
		{3, "", "", 3},
		{1, "m/s^2", "m*s^-2", 1},
		{2, "km", "m", 2000},
		{1, "lb", "kg", 0.45359237},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			got, err := c.Convert(tt.v, tt.from, tt.to)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9*max(1, tt.want))
		})
	}
}

func TestCompatible(t *testing.T) {
	c := New()
	ok, err := c.Compatible("m", "in")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Compatible("m", "kg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Convert(1, "m", "s")
	assert.True(t, errs.Is(err, errs.UnitMismatch))
}

func TestParseErrors(t *testing.T) {
	c := New()
	for _, bad := range []string{"blorp", "m/s/s", "m^x", "m/", "celsius", "kg/fahrenheit"} {
		_, err := c.Parse(bad)
		assert.True(t, errs.Is(err, errs.UnitMismatch), bad)
	}
}

func TestClosedContext(t *testing.T) {
	c := New()
	require.NoError(t, c.Close())
	_, err := c.Parse("m")
	assert.True(t, errs.Is(err, errs.IllegalState))
}

func TestParseCaches(t *testing.T) {
	c := New()
	defer c.Close()
	u, err := c.Parse("mm")
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, u.Scale, 1e-15)
	assert.False(t, u.Dimensionless())

	again, err := c.Parse("mm")
	require.NoError(t, err)
	assert.Equal(t, u, again)
	assert.Contains(t, c.cache, "mm")

	angle, err := c.Parse("deg")
	require.NoError(t, err)
	assert.True(t, angle.Dimensionless())
}
