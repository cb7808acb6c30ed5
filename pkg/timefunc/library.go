package timefunc

import (
	"gonum.org/v1/gonum/mat"
)

// Options selects which functions enter the decomposition. Coseismic and
// Postseismic must have the same length; a Postseismic value <= 0 attaches
// no transient to that step.
type Options struct {
	RefDate     float64
	Linear      bool
	Seasonal    bool
	Semiannual  bool
	Coseismic   []float64
	Postseismic []float64
	SlowSlip    [][2]float64 // (date, tau) pairs

	DEM       bool
	Baselines []float64
	RefBase   float64

	Vectors       [][]float64
	VectorLabels  []string
}

// Library holds the active basis and kernel functions together with the
// column positions of the groups that are needed again after the fit:
// the linear trend, the seasonal pair, the coseismic/postseismic pairs
// and the vector columns.
type Library struct {
	Basis   []Basis
	Kernels []Kernel

	// Column indices into the design matrix; -1 when the group is absent.
	Linear     int
	Seasonal   int
	Semiannual int

	// Coseismic[i] is the column of step i. PostseismicFull[i] is the
	// column of its log transient, or -1 when the step carries none.
	// Postseismic lists only the transient columns actually present.
	Coseismic       []int
	Postseismic     []int
	PostseismicFull []int
	PostTau         []float64

	SlowSlip []int
	DEM      int
	Vectors  []int
}

// NewLibrary builds the function library in the fixed column order that
// every design matrix downstream relies on: reference, linear, seasonal,
// semiannual, coseismic steps, postseismic transients, slow slip, then
// kernels (DEM, vectors).
func NewLibrary(opts Options) *Library {
	lib := &Library{
		Linear:     -1,
		Seasonal:   -1,
		Semiannual: -1,
		DEM:        -1,
	}

	add := func(b Basis) int {
		lib.Basis = append(lib.Basis, b)
		return len(lib.Basis) - 1
	}

	add(Reference{})

	if opts.Linear {
		lib.Linear = add(Interseismic{T0: opts.RefDate})
	}
	if opts.Seasonal {
		lib.Seasonal = add(SeasonalCos{T0: opts.RefDate})
		add(SeasonalSin{T0: opts.RefDate})
	}
	if opts.Semiannual {
		lib.Semiannual = add(SemiannualCos{T0: opts.RefDate})
		add(SemiannualSin{T0: opts.RefDate})
	}

	for i, t0 := range opts.Coseismic {
		lib.Coseismic = append(lib.Coseismic, add(Coseismic{Idx: i, T0: t0}))
	}
	for i, tau := range opts.Postseismic {
		lib.PostTau = append(lib.PostTau, tau)
		if tau > 0 {
			col := add(Postseismic{Idx: i, T0: opts.Coseismic[i], Tau: tau})
			lib.Postseismic = append(lib.Postseismic, col)
			lib.PostseismicFull = append(lib.PostseismicFull, col)
		} else {
			lib.PostseismicFull = append(lib.PostseismicFull, -1)
		}
	}
	for i, sse := range opts.SlowSlip {
		lib.SlowSlip = append(lib.SlowSlip, add(SlowSlip{Idx: i, T0: sse[0], Tau: sse[1]}))
	}

	nb := len(lib.Basis)
	if opts.DEM {
		lib.Kernels = append(lib.Kernels, DEMKernel{Baselines: opts.Baselines, RefBase: opts.RefBase})
		lib.DEM = nb + len(lib.Kernels) - 1
	}
	for i, v := range opts.Vectors {
		label := "vector"
		if i < len(opts.VectorLabels) {
			label = opts.VectorLabels[i]
		}
		lib.Kernels = append(lib.Kernels, VectorKernel{Idx: i, Label: label, Values: v})
		lib.Vectors = append(lib.Vectors, nb+len(lib.Kernels)-1)
	}

	return lib
}

// M returns the total number of model parameters.
func (lib *Library) M() int { return len(lib.Basis) + len(lib.Kernels) }

// NBasis returns the number of time-indexed basis functions.
func (lib *Library) NBasis() int { return len(lib.Basis) }

// Reductions returns the short tag of every column, basis then kernels.
func (lib *Library) Reductions() []string {
	out := make([]string, 0, lib.M())
	for _, b := range lib.Basis {
		out = append(out, b.Reduction())
	}
	for _, k := range lib.Kernels {
		out = append(out, k.Reduction())
	}
	return out
}

// Design builds the design matrix for the given valid sample dates and
// their epoch indices. Rows follow the sample order; columns follow the
// library order.
func (lib *Library) Design(dates []float64, idx []int) *mat.Dense {
	rows := len(dates)
	g := mat.NewDense(rows, lib.M(), nil)
	for c, b := range lib.Basis {
		col := b.Eval(dates)
		for r := 0; r < rows; r++ {
			g.Set(r, c, col[r])
		}
	}
	for kc, k := range lib.Kernels {
		col := k.EvalIndex(idx)
		c := len(lib.Basis) + kc
		for r := 0; r < rows; r++ {
			g.Set(r, c, col[r])
		}
	}
	return g
}
