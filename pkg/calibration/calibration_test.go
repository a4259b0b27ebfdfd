package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFit(t *testing.T) {
	m, err := New(DefaultTable())
	require.Nil(t, err)

	assert.InDelta(t, 0.000999891, m.Slope, 1e-9)
	assert.InDelta(t, 0.980007610, m.Intercept, 1e-9)

	assert.InDelta(t, 0.988, m.Convert(8), 0.002)
	assert.InDelta(t, 1.147, m.Convert(168), 0.002)
}

func TestAnchorResiduals(t *testing.T) {
	table := DefaultTable()
	m, err := New(table)
	require.Nil(t, err)

	for i, x := range table.Measured {
		assert.InDelta(t, table.Reference[i], m.Convert(int(x)), 0.002, "anchor %v", x)
	}
}

func TestExactLine(t *testing.T) {
	m, err := New(Table{
		Measured:  []float64{0, 10},
		Reference: []float64{1, 2},
	})
	require.Nil(t, err)
	assert.InDelta(t, 0.1, m.Slope, 1e-12)
	assert.InDelta(t, 1., m.Intercept, 1e-12)
	assert.InDelta(t, 1.5, m.Convert(5), 1e-12)
}

func TestConvertDeterministic(t *testing.T) {
	m1 := MustDefault()
	m2 := MustDefault()
	for raw := 0; raw < 1024; raw++ {
		assert.Equal(t, m1.Convert(raw), m2.Convert(raw))
		assert.Equal(t, m1.Convert(raw), m1.Convert(raw))
	}
}

func TestConvertMonotonic(t *testing.T) {
	m := MustDefault()
	prev := m.Convert(0)
	for raw := 1; raw < 65536; raw += 17 {
		cur := m.Convert(raw)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestConvertAffine(t *testing.T) {
	m := MustDefault()
	for _, step := range []int{1, 7, 100} {
		d1 := m.Convert(50+step) - m.Convert(50)
		d2 := m.Convert(500+step) - m.Convert(500)
		assert.InDelta(t, d1, d2, 1e-12)
	}
}

func TestInvalidTables(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"empty", Table{}},
		{"single point", Table{Measured: []float64{1}, Reference: []float64{1.0}}},
		{"length mismatch", Table{Measured: []float64{1, 2, 3}, Reference: []float64{1.0, 1.1}}},
		{"degenerate", Table{Measured: []float64{4, 4, 4}, Reference: []float64{1.0, 1.1, 1.2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.table)
			assert.NotNil(t, err)
			assert.Nil(t, m)
		})
	}
}
