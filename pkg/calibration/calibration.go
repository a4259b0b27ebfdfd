package calibration

import (
	"errors"
	"fmt"
)

// Table denotes a set of reference points mapping raw tilt readings to
// known specific gravity values
type Table struct {
	Measured  []float64 `json:"measured"`
	Reference []float64 `json:"reference"`
}

// DefaultTable returns the design-time calibration table of the brewometer
// (six points spanning raw values 8..168)
func DefaultTable() Table {
	return Table{
		Measured:  []float64{8, 21, 34, 88, 99, 168},
		Reference: []float64{0.988, 1, 1.014, 1.069, 1.08, 1.147},
	}
}

// Validate checks that the table can be fitted
func (t Table) Validate() error {
	if len(t.Measured) != len(t.Reference) {
		return fmt.Errorf("calibration table length mismatch: %d measured vs. %d reference points", len(t.Measured), len(t.Reference))
	}
	if len(t.Measured) < 2 {
		return fmt.Errorf("calibration table requires at least 2 points, got %d", len(t.Measured))
	}

	// A vertical line cannot be fitted if all measured values coincide
	for _, x := range t.Measured[1:] {
		if x != t.Measured[0] {
			return nil
		}
	}
	return errors.New("calibration table requires at least two distinct measured values")
}

// Model denotes a linear calibration model: gravity = Slope * raw + Intercept
type Model struct {
	Slope     float64
	Intercept float64
}

// New fits a line through the points of the table using ordinary least squares
func New(t Table) (*Model, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	n := float64(len(t.Measured))
	var meanX, meanY float64
	for i := range t.Measured {
		meanX += t.Measured[i]
		meanY += t.Reference[i]
	}
	meanX /= n
	meanY /= n

	// Centered sums keep the normal equations well conditioned
	var sxy, sxx float64
	for i := range t.Measured {
		dx := t.Measured[i] - meanX
		sxy += dx * (t.Reference[i] - meanY)
		sxx += dx * dx
	}

	slope := sxy / sxx
	return &Model{
		Slope:     slope,
		Intercept: meanY - slope*meanX,
	}, nil
}

// MustDefault returns the model fitted to the default table
func MustDefault() *Model {
	m, err := New(DefaultTable())
	if err != nil {
		panic(err)
	}
	return m
}

// Convert converts a raw tilt reading to specific gravity
func (m *Model) Convert(raw int) float64 {
	return m.Slope*float64(raw) + m.Intercept
}
