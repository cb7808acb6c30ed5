package models

import (
	"math"
)

// Epoch is one acquisition of the time series
type Epoch struct {
	// Index is the position of this epoch in the stack
	Index int

	// Date is the acquisition date as a YYYYMMDD integer
	Date int

	// DecimalDate is the acquisition date as a fractional year
	DecimalDate float64

	// Baseline is the perpendicular baseline of the acquisition
	Baseline float64
}

// Raster is a single 2-D float map in row-major order.
// Invalid pixels are NaN.
type Raster struct {
	Data  []float64
	Lines int
	Cols  int
}

// NewRaster returns an all-zero raster of the given shape.
func NewRaster(lines, cols int) *Raster {
	return &Raster{
		Data:  make([]float64, lines*cols),
		Lines: lines,
		Cols:  cols,
	}
}

// NewNaNRaster returns a raster of the given shape with every pixel NaN.
func NewNaNRaster(lines, cols int) *Raster {
	r := NewRaster(lines, cols)
	for i := range r.Data {
		r.Data[i] = math.NaN()
	}
	return r
}

// At returns the value at line i, column j.
func (r *Raster) At(i, j int) float64 {
	return r.Data[i*r.Cols+j]
}

// Set writes the value at line i, column j.
func (r *Raster) Set(i, j int, v float64) {
	r.Data[i*r.Cols+j] = v
}

// Clone returns a deep copy of the raster.
func (r *Raster) Clone() *Raster {
	out := NewRaster(r.Lines, r.Cols)
	copy(out.Data, r.Data)
	return out
}

// NaNSum returns the sum of all finite pixels.
func (r *Raster) NaNSum() float64 {
	var s float64
	for _, v := range r.Data {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

// Stack is an ordered collection of per-epoch displacement maps sharing
// one spatial footprint. Maps are indexed by epoch position.
type Stack struct {
	Epochs []Epoch
	Maps   []*Raster
	Lines  int
	Cols   int
}

// NewStack allocates a stack of zero maps for the given epochs and shape.
func NewStack(epochs []Epoch, lines, cols int) *Stack {
	s := &Stack{
		Epochs: epochs,
		Maps:   make([]*Raster, len(epochs)),
		Lines:  lines,
		Cols:   cols,
	}
	for i := range s.Maps {
		s.Maps[i] = NewRaster(lines, cols)
	}
	return s
}

// N returns the number of epochs.
func (s *Stack) N() int { return len(s.Epochs) }

// Dates returns the decimal dates of all epochs.
func (s *Stack) Dates() []float64 {
	out := make([]float64, len(s.Epochs))
	for i, e := range s.Epochs {
		out[i] = e.DecimalDate
	}
	return out
}

// Baselines returns the perpendicular baselines of all epochs.
func (s *Stack) Baselines() []float64 {
	out := make([]float64, len(s.Epochs))
	for i, e := range s.Epochs {
		out[i] = e.Baseline
	}
	return out
}

// Series returns the displacement time series at pixel (i, j), one value
// per epoch.
func (s *Stack) Series(i, j int) []float64 {
	out := make([]float64, len(s.Maps))
	for l, m := range s.Maps {
		out[l] = m.At(i, j)
	}
	return out
}
