package decomp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"insardecomp/pkg/solver"
	"insardecomp/pkg/timefunc"
)

// Decomposer fits the temporal function library to single-pixel time
// series. One Decomposer is shared read-only by all workers of a pass.
type Decomposer struct {
	Lib    *timefunc.Library
	Dates  []float64
	Params solver.Params
}

// NewDecomposer prepares a per-pixel inversion over the given decimal
// dates with the solver parameters p.
func NewDecomposer(lib *timefunc.Library, dates []float64, p solver.Params) *Decomposer {
	return &Decomposer{Lib: lib, Dates: dates, Params: p}
}

// constraints maps the library's coseismic/postseismic pairing onto the
// constrained solver.
func (d *Decomposer) constraints() solver.Constraints {
	return solver.Constraints{
		Coseismic:       d.Lib.Coseismic,
		PostseismicFull: d.Lib.PostseismicFull,
		Postseismic:     d.Lib.Postseismic,
		Tau:             d.Lib.PostTau,
	}
}

// PixelResult carries everything the pass needs from one pixel fit. The
// per-epoch series are full length, NaN where the observation was
// missing.
type PixelResult struct {
	// Coeff and Sigma are the fitted parameters and their formal
	// uncertainties, in library column order.
	Coeff []float64
	Sigma []float64

	// Model is the fitted series at the epochs that carried an
	// observation, NaN elsewhere; Linear, Seasonal and Vector restrict
	// it to those column groups (nil when the group is absent from the
	// library).
	Model    []float64
	Linear   []float64
	Seasonal []float64
	Vector   []float64

	// Misfit is |observed - Model| at valid epochs, NaN elsewhere.
	Misfit []float64

	// Valid is false when the pixel had too few usable epochs.
	Valid bool
}

// minimum fraction of epochs a pixel must carry to be inverted
const minValidFraction = 6

// DecomposePixel inverts one pixel. series is the flattened displacement
// at every epoch, sigma the per-epoch noise weight. Pixels with at most
// N/6 valid epochs are not inverted and come back all-NaN with
// Valid=false.
func (d *Decomposer) DecomposePixel(series, sigma []float64, constrained bool) (PixelResult, error) {
	n := len(d.Dates)
	res := PixelResult{
		Coeff:  nanSlice(d.Lib.M()),
		Sigma:  nanSlice(d.Lib.M()),
		Model:  nanSlice(n),
		Misfit: nanSlice(n),
	}

	var idx []int
	for k, v := range series {
		if !math.IsNaN(v) {
			idx = append(idx, k)
		}
	}
	if len(idx) <= n/minValidFraction {
		return res, nil
	}

	dates := make([]float64, len(idx))
	b := make([]float64, len(idx))
	sd := make([]float64, len(idx))
	for r, k := range idx {
		dates[r] = d.Dates[k]
		b[r] = series[k]
		sd[r] = sigma[k]
	}
	g := d.Lib.Design(dates, idx)

	var cons *solver.Constraints
	if constrained {
		c := d.constraints()
		cons = &c
	}
	coeff, sig, err := solver.ConsInvert(g, b, sd, cons, d.Params)
	if err != nil {
		return res, err
	}
	res.Coeff, res.Sigma = coeff, sig
	res.Valid = true

	// reconstruct at valid epochs only; missing observations stay NaN
	scatter(res.Model, project(g, coeff, nil), idx)
	if d.Lib.Linear >= 0 {
		res.Linear = nanSlice(n)
		scatter(res.Linear, project(g, coeff, []int{d.Lib.Linear}), idx)
	}
	if d.Lib.Seasonal >= 0 {
		res.Seasonal = nanSlice(n)
		scatter(res.Seasonal, project(g, coeff, []int{d.Lib.Seasonal, d.Lib.Seasonal + 1}), idx)
	}
	if len(d.Lib.Vectors) > 0 {
		res.Vector = nanSlice(n)
		scatter(res.Vector, project(g, coeff, d.Lib.Vectors), idx)
	}

	for _, k := range idx {
		res.Misfit[k] = math.Abs(series[k] - res.Model[k])
	}
	return res, nil
}

// project evaluates the model restricted to the listed columns, or to
// all columns when cols is nil.
func project(g *mat.Dense, coeff []float64, cols []int) []float64 {
	rows, _ := g.Dims()
	if cols == nil {
		cols = make([]int, len(coeff))
		for c := range cols {
			cols[c] = c
		}
	}
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		var s float64
		for _, c := range cols {
			s += g.At(r, c) * coeff[c]
		}
		out[r] = s
	}
	return out
}

// scatter writes vals[r] to dst[idx[r]].
func scatter(dst, vals []float64, idx []int) {
	for r, k := range idx {
		dst[k] = vals[r]
	}
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
