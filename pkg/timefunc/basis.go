// Package timefunc defines the library of temporal basis and kernel
// functions used by the time decomposition. Basis functions are evaluated
// over decimal dates; kernel functions are evaluated over epoch indices.
package timefunc

import (
	"math"
	"strconv"
)

// Basis is a function of time whose coefficient is estimated per pixel.
// Eval returns one value per sample date.
type Basis interface {
	Name() string
	Reduction() string
	Eval(t []float64) []float64
}

// Kernel is a per-epoch function indexed by epoch position rather than
// time, such as the baseline-proportional DEM correction.
type Kernel interface {
	Name() string
	Reduction() string
	EvalIndex(idx []int) []float64
}

// Reference is the constant term.
type Reference struct{}

func (Reference) Name() string      { return "reference" }
func (Reference) Reduction() string { return "ref" }
func (Reference) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i := range out {
		out[i] = 1
	}
	return out
}

// Interseismic is the linear trend t - t0.
type Interseismic struct {
	T0 float64
}

func (Interseismic) Name() string      { return "interseismic" }
func (Interseismic) Reduction() string { return "lin" }
func (f Interseismic) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = ti - f.T0
	}
	return out
}

// SeasonalCos and SeasonalSin are the annual cycle pair.
type SeasonalCos struct {
	T0 float64
}

func (SeasonalCos) Name() string      { return "seas. var (cos)" }
func (SeasonalCos) Reduction() string { return "coswt" }
func (f SeasonalCos) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = math.Cos(2 * math.Pi * (ti - f.T0))
	}
	return out
}

type SeasonalSin struct {
	T0 float64
}

func (SeasonalSin) Name() string      { return "seas. var (sin)" }
func (SeasonalSin) Reduction() string { return "sinwt" }
func (f SeasonalSin) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = math.Sin(2 * math.Pi * (ti - f.T0))
	}
	return out
}

// SemiannualCos and SemiannualSin are the twice-yearly cycle pair.
type SemiannualCos struct {
	T0 float64
}

func (SemiannualCos) Name() string      { return "semi-anual var (cos)" }
func (SemiannualCos) Reduction() string { return "cosw2t" }
func (f SemiannualCos) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = math.Cos(4 * math.Pi * (ti - f.T0))
	}
	return out
}

type SemiannualSin struct {
	T0 float64
}

func (SemiannualSin) Name() string      { return "semi-anual var (sin)" }
func (SemiannualSin) Reduction() string { return "sinw2t" }
func (f SemiannualSin) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = math.Sin(4 * math.Pi * (ti - f.T0))
	}
	return out
}

// Coseismic is a unit step at T0.
type Coseismic struct {
	Idx int
	T0  float64
}

func (f Coseismic) Name() string      { return "coseismic" }
func (f Coseismic) Reduction() string { return "cos" + itoa(f.Idx) }
func (f Coseismic) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		if ti >= f.T0 {
			out[i] = 1
		}
	}
	return out
}

// Postseismic is the logarithmic relaxation pinned to a coseismic step:
// log10(1 + (t-t0)/tau), zero before t0.
type Postseismic struct {
	Idx int
	T0  float64
	Tau float64
}

func (f Postseismic) Name() string      { return "postseismic" }
func (f Postseismic) Reduction() string { return "post" + itoa(f.Idx) }
func (f Postseismic) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		dt := (ti - f.T0) / f.Tau
		if dt <= 0 {
			continue
		}
		out[i] = math.Log10(1 + dt)
	}
	return out
}

// SlowSlip is the smooth tanh transition of Larson et al. (2004):
// 0.5*(tanh((t-t0)/tau) - 1) + 1.
type SlowSlip struct {
	Idx int
	T0  float64
	Tau float64
}

func (f SlowSlip) Name() string      { return "sse" }
func (f SlowSlip) Reduction() string { return "sse" + itoa(f.Idx) }
func (f SlowSlip) Eval(t []float64) []float64 {
	out := make([]float64, len(t))
	for i, ti := range t {
		out[i] = 0.5*(math.Tanh((ti-f.T0)/f.Tau)-1) + 1
	}
	return out
}

// DEMKernel is the baseline-proportional correction
// baseline(epoch) - baseline(reference).
type DEMKernel struct {
	Baselines []float64
	RefBase   float64
}

func (DEMKernel) Name() string      { return "dem correction" }
func (DEMKernel) Reduction() string { return "corrdem" }
func (f DEMKernel) EvalIndex(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = f.Baselines[k] - f.RefBase
	}
	return out
}

// VectorKernel is an arbitrary externally supplied per-epoch value.
type VectorKernel struct {
	Idx    int
	Label  string
	Values []float64
}

func (f VectorKernel) Name() string      { return f.Label }
func (f VectorKernel) Reduction() string { return "vector_" + itoa(f.Idx) }
func (f VectorKernel) EvalIndex(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = f.Values[k]
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
