package solver

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestInvSVDExact verifies that a well-conditioned system is solved
// exactly.
func TestInvSVDExact(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 2,
		1, 1,
	})
	// b generated from x = [1, 2]
	b := []float64{1, 4, 3}

	x := InvSVD(a, b, 1e-3)
	if len(x) != 2 {
		t.Fatalf("Expected 2 parameters, got %d", len(x))
	}
	if math.Abs(x[0]-1) > 1e-9 || math.Abs(x[1]-2) > 1e-9 {
		t.Errorf("Expected solution [1 2], got %v", x)
	}
}

// TestInvSVDDuplicatedColumn verifies that a rank-deficient system with
// two identical columns still yields a finite solution reproducing the
// observations.
func TestInvSVDDuplicatedColumn(t *testing.T) {
	a := mat.NewDense(4, 3, []float64{
		1, 1, 0,
		1, 1, 1,
		1, 1, 2,
		1, 1, 3,
	})
	b := []float64{2, 3, 4, 5}

	x := InvSVD(a, b, 1e-3)
	for j, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Parameter %d is not finite: %f", j, v)
		}
	}
	for i := 0; i < 4; i++ {
		pred := x[0]*a.At(i, 0) + x[1]*a.At(i, 1) + x[2]*a.At(i, 2)
		if math.Abs(pred-b[i]) > 1e-6 {
			t.Errorf("Row %d: expected prediction %f, got %f", i, b[i], pred)
		}
	}
}

// TestConsInvertUnconstrained verifies that ConsInvert without
// constraints matches the plain truncated-SVD solution.
func TestConsInvertUnconstrained(t *testing.T) {
	a := mat.NewDense(5, 2, []float64{
		1, 0,
		1, 1,
		1, 2,
		1, 3,
		1, 4,
	})
	b := []float64{0.5, 1.6, 2.4, 3.6, 4.5}
	sigma := []float64{1, 1, 1, 1, 1}

	want := InvSVD(a, b, 1e-3)
	got, _, err := ConsInvert(a, b, sigma, nil, DefaultParams())
	if err != nil {
		t.Fatalf("ConsInvert failed: %v", err)
	}
	for j := range want {
		if math.Abs(got[j]-want[j]) > 1e-12 {
			t.Errorf("Parameter %d: expected %f, got %f", j, want[j], got[j])
		}
	}
}

// TestConsInvertDimensionMismatch verifies the dimension sentinel error.
func TestConsInvertDimensionMismatch(t *testing.T) {
	a := mat.NewDense(3, 2, nil)
	b := []float64{1, 2}
	_, _, err := ConsInvert(a, b, []float64{1, 1}, nil, DefaultParams())
	if !errors.Is(err, ErrDimension) {
		t.Errorf("Expected ErrDimension, got %v", err)
	}
}

// stepSeries builds observations of a negative step at sample 5 followed
// by a decaying transient of the same sign, plus a constant offset.
func stepSeries(transientSign float64) (*mat.Dense, []float64, *Constraints) {
	const n = 12
	a := mat.NewDense(n, 3, nil)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		step, post := 0.0, 0.0
		if i >= 5 {
			step = 1
			post = math.Log10(1 + float64(i-5)/2)
		}
		a.Set(i, 0, 1)
		a.Set(i, 1, step)
		a.Set(i, 2, post)
		b[i] = 0.3 - 4*step + transientSign*post
	}
	cons := &Constraints{
		Coseismic:       []int{1},
		PostseismicFull: []int{2},
		Postseismic:     []int{2},
		Tau:             []float64{2},
	}
	return a, b, cons
}

// TestConsInvertSignConstraint verifies that the transient amplitude is
// forced to the sign of the prior step: a negative step cannot carry a
// positive transient.
func TestConsInvertSignConstraint(t *testing.T) {
	a, b, cons := stepSeries(+1.5)
	sigma := make([]float64, len(b))
	for i := range sigma {
		sigma[i] = 1
	}

	x, _, err := ConsInvert(a, b, sigma, cons, DefaultParams())
	if err != nil {
		t.Fatalf("ConsInvert failed: %v", err)
	}
	if x[1] > 0 {
		t.Errorf("Expected non-positive step, got %f", x[1])
	}
	if x[2] > 1e-9 {
		t.Errorf("Expected transient clamped to non-positive, got %f", x[2])
	}
}

// TestConsInvertTauSentinel verifies that a non-positive relaxation time
// disables the bounds for that step, reproducing the unconstrained fit.
func TestConsInvertTauSentinel(t *testing.T) {
	a, b, cons := stepSeries(+1.5)
	cons.Tau = []float64{0}
	sigma := make([]float64, len(b))
	for i := range sigma {
		sigma[i] = 1
	}

	x, _, err := ConsInvert(a, b, sigma, cons, DefaultParams())
	if err != nil {
		t.Fatalf("ConsInvert failed: %v", err)
	}
	want := InvSVD(a, b, 1e-3)
	for j := range want {
		if math.Abs(x[j]-want[j]) > 1e-3 {
			t.Errorf("Parameter %d: expected unconstrained %f, got %f", j, want[j], x[j])
		}
	}
}

// TestUncertaintyNoResidualDOF verifies that a square system with a
// truncation residual, which leaves no residual degrees of freedom,
// yields NaN uncertainties instead of infinities.
func TestUncertaintyNoResidualDOF(t *testing.T) {
	// the second singular value falls below cond, so the truncated
	// solution carries a nonzero residual
	a := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1e-6,
	})
	b := []float64{2, 1}
	x, sig, err := ConsInvert(a, b, []float64{1, 1}, nil, DefaultParams())
	if err != nil {
		t.Fatalf("ConsInvert failed: %v", err)
	}
	if math.Abs(x[0]-2) > 1e-9 || math.Abs(x[1]) > 1e-9 {
		t.Errorf("Expected truncated solution [2 0], got %v", x)
	}
	for j, v := range sig {
		if !math.IsNaN(v) {
			t.Errorf("Expected NaN uncertainty for parameter %d, got %f", j, v)
		}
	}
}

// TestUncertaintySingular verifies that a singular normal matrix yields
// NaN uncertainties rather than an error.
func TestUncertaintySingular(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{
		1, 1,
		1, 1,
		1, 1,
	})
	b := []float64{1, 1, 1}
	_, sig, err := ConsInvert(a, b, []float64{1, 1, 1}, nil, DefaultParams())
	if err != nil {
		t.Fatalf("ConsInvert failed: %v", err)
	}
	for j, v := range sig {
		if !math.IsNaN(v) {
			t.Errorf("Expected NaN uncertainty for parameter %d, got %f", j, v)
		}
	}
}
