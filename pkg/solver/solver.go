// Package solver implements the regularized least-squares machinery shared
// by the spatial and temporal estimations: a truncated-SVD solve for
// rank-deficient systems and a constrained variant that bounds the
// coseismic/postseismic parameters.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDimension reports a design matrix whose row count does not match the
// observation vector.
var ErrDimension = errors.New("incompatible dimensions for A and b")

// InvSVD computes the least-squares solution of A x = b by singular value
// decomposition. Singular values smaller than cond are treated as zero.
// If the decomposition fails to converge it falls back to a plain
// least-squares solve.
func InvSVD(a *mat.Dense, b []float64, cond float64) []float64 {
	rows, cols := a.Dims()
	bv := mat.NewVecDense(rows, b)

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return lstsq(a, bv, rows, cols)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	k := len(s)

	// x = V diag(1/s) U^T b, with 1/s zeroed below the cutoff
	utb := make([]float64, k)
	for j := 0; j < k; j++ {
		var acc float64
		for i := 0; i < rows; i++ {
			acc += u.At(i, j) * b[i]
		}
		if s[j] < cond {
			utb[j] = 0
		} else {
			utb[j] = acc / s[j]
		}
	}

	x := make([]float64, cols)
	for i := 0; i < cols; i++ {
		var acc float64
		for j := 0; j < k; j++ {
			acc += v.At(i, j) * utb[j]
		}
		x[i] = acc
	}
	return x
}

func lstsq(a *mat.Dense, b *mat.VecDense, rows, cols int) []float64 {
	var qr mat.QR
	qr.Factorize(a)
	x := mat.NewVecDense(cols, nil)
	if err := qr.SolveVecTo(x, false, b); err != nil {
		return make([]float64, cols)
	}
	return x.RawVector().Data
}

// Constraints carries the column bookkeeping of the coseismic/postseismic
// pairs needed by the sign-constrained refinement.
type Constraints struct {
	// Coseismic[i] is the column of step i. PostseismicFull[i] is the
	// column of its transient, or -1 when the step carries none.
	Coseismic       []int
	PostseismicFull []int

	// Postseismic lists only the transient columns present in the model.
	Postseismic []int

	// Tau[i] is the characteristic time of step i; <= 0 disables the
	// bound relaxation for that step.
	Tau []float64
}

// Params bounds the constrained refinement.
type Params struct {
	Cond    float64
	MaxIter int
	Acc     float64
}

// DefaultParams mirrors the historical defaults of the estimation.
func DefaultParams() Params {
	return Params{Cond: 1e-3, MaxIter: 2000, Acc: 1e-12}
}

// ConsInvert solves A x = b weighted by the per-sample uncertainties
// sigmaD. Without constraints it is exactly InvSVD. With constraints it
// first solves the problem with the postseismic columns removed, derives
// sign bounds from that prior, and refines under those bounds. The
// returned sigma holds the 1-sigma parameter uncertainties, NaN when the
// normal matrix is singular.
func ConsInvert(a *mat.Dense, b, sigmaD []float64, cons *Constraints, p Params) ([]float64, []float64, error) {
	rows, cols := a.Dims()
	if rows != len(b) {
		return nil, nil, fmt.Errorf("%w: A is %dx%d, b has length %d", ErrDimension, rows, cols, len(b))
	}

	var x []float64
	if cons == nil || len(cons.Postseismic) == 0 {
		x = InvSVD(a, b, p.Cond)
	} else {
		x = constrainedSolve(a, b, sigmaD, cons, p)
	}

	return x, uncertainty(a, b, x), nil
}

func constrainedSolve(a *mat.Dense, b, sigmaD []float64, cons *Constraints, p Params) []float64 {
	rows, cols := a.Dims()

	// prior solution without the transients
	drop := make(map[int]bool, len(cons.Postseismic))
	for _, c := range cons.Postseismic {
		drop[c] = true
	}
	sub := mat.NewDense(rows, cols-len(cons.Postseismic), nil)
	keep := make([]int, 0, cols-len(cons.Postseismic))
	for c := 0; c < cols; c++ {
		if !drop[c] {
			keep = append(keep, c)
		}
	}
	for j, c := range keep {
		for i := 0; i < rows; i++ {
			sub.Set(i, j, a.At(i, c))
		}
	}
	prior := InvSVD(sub, b, p.Cond)

	// rebuild the full vector with zeros at the transient columns
	x0 := make([]float64, cols)
	for j, c := range keep {
		x0[c] = prior[j]
	}

	lower := make([]float64, cols)
	upper := make([]float64, cols)
	for i := range lower {
		lower[i] = math.Inf(-1)
		upper[i] = math.Inf(1)
	}

	// Postseismic amplitudes are forced to the sign of the prior
	// coseismic step, and the step itself is bounded between zero and
	// its prior value.
	for i, co := range cons.Coseismic {
		if i >= len(cons.Tau) || cons.Tau[i] <= 0 {
			continue
		}
		po := cons.PostseismicFull[i]
		if po < 0 {
			continue
		}
		if x0[co] > 0 {
			lower[po], upper[po] = 0, math.Inf(1)
			lower[co], upper[co] = 0, x0[co]
		} else if x0[co] < 0 {
			lower[po], upper[po] = math.Inf(-1), 0
			lower[co], upper[co] = x0[co], 0
		}
	}

	return boundedLS(a, b, sigmaD, x0, lower, upper, p)
}

// boundedLS minimizes sum(((Ax-b)/sigma)^2) subject to box bounds with a
// projected gradient descent started from x0, run to convergence at
// tolerance acc or the iteration cap.
func boundedLS(a *mat.Dense, b, sigmaD []float64, x0, lower, upper []float64, p Params) []float64 {
	rows, cols := a.Dims()

	x := append([]float64(nil), x0...)
	clamp(x, lower, upper)

	resid := make([]float64, rows)
	grad := make([]float64, cols)
	trial := make([]float64, cols)

	obj := func(v []float64) float64 {
		var sum float64
		for i := 0; i < rows; i++ {
			var acc float64
			for j := 0; j < cols; j++ {
				acc += a.At(i, j) * v[j]
			}
			r := (acc - b[i]) / sigmaD[i]
			resid[i] = r
			sum += r * r
		}
		return sum
	}

	f := obj(x)
	for iter := 0; iter < p.MaxIter; iter++ {
		// grad = 2 A^T/sigma * resid
		for j := 0; j < cols; j++ {
			var acc float64
			for i := 0; i < rows; i++ {
				acc += a.At(i, j) / sigmaD[i] * resid[i]
			}
			grad[j] = 2 * acc
		}
		gnorm := floats.Norm(grad, 2)
		if gnorm < p.Acc {
			break
		}

		// backtracking line search along the projected gradient
		step := 1.0
		improved := false
		for ls := 0; ls < 40; ls++ {
			for j := range trial {
				trial[j] = x[j] - step*grad[j]
			}
			clamp(trial, lower, upper)
			ft := obj(trial)
			if ft < f-p.Acc {
				copy(x, trial)
				f = ft
				improved = true
				break
			}
			step /= 2
		}
		if !improved {
			break
		}
	}
	// leave resid consistent with the accepted x for callers reusing it
	obj(x)
	return x
}

func clamp(x, lower, upper []float64) {
	for i := range x {
		if x[i] < lower[i] {
			x[i] = lower[i]
		}
		if x[i] > upper[i] {
			x[i] = upper[i]
		}
	}
}

// uncertainty estimates 1-sigma parameter errors from (A^T A)^-1 scaled by
// the residual variance. A singular normal matrix yields NaNs rather than
// an error.
func uncertainty(a *mat.Dense, b, x []float64) []float64 {
	rows, cols := a.Dims()

	sigma := make([]float64, cols)
	var ata mat.Dense
	ata.Mul(a.T(), a)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		for i := range sigma {
			sigma[i] = math.NaN()
		}
		return sigma
	}

	var res2 float64
	for i := 0; i < rows; i++ {
		var acc float64
		for j := 0; j < cols; j++ {
			acc += a.At(i, j) * x[j]
		}
		d := b[i] - acc
		res2 += d * d
	}
	// sigma_m^2 = misfit^2 * diag((A^T A)^-1); without residual degrees
	// of freedom the variance is undefined
	dof := float64(rows - cols)
	if dof <= 0 {
		for j := range sigma {
			sigma[j] = math.NaN()
		}
		return sigma
	}
	for j := 0; j < cols; j++ {
		sigma[j] = math.Sqrt(res2 / dof * inv.At(j, j))
	}
	return sigma
}
