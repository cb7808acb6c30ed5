package ramp

import (
	"math"
	"testing"

	"insardecomp/internal/models"
)

func fullWindow(lines, cols int) Window {
	return Window{LineStart: 0, LineEnd: lines, ColStart: 0, ColEnd: cols}
}

func newEstimator(lines, cols, order int) *Estimator {
	return &Estimator{
		Order:        order,
		PercLOS:      98,
		PercTopo:     90,
		ThresholdRMS: 1,
		Cond:         1e-3,
		Crop:         fullWindow(lines, cols),
		CropEmp:      fullWindow(lines, cols),
	}
}

// TestCorrectEpochReference verifies the all-zero reference epoch passes
// through untouched with the sentinel RMS.
func TestCorrectEpochReference(t *testing.T) {
	const lines, cols = 20, 20
	los := models.NewRaster(lines, cols)
	model := models.NewRaster(lines, cols)

	est := newEstimator(lines, cols, 3)
	out, err := est.CorrectEpoch(los, model, 20100101)
	if err != nil {
		t.Fatalf("CorrectEpoch failed: %v", err)
	}
	if out.RMS != 1 {
		t.Errorf("Expected reference RMS 1, got %f", out.RMS)
	}
	for i, v := range out.Flat.Data {
		if v != 0 {
			t.Fatalf("Pixel %d: expected untouched zero, got %f", i, v)
		}
		if out.Ramp.Data[i] != 0 || out.Topo.Data[i] != 0 {
			t.Fatalf("Pixel %d: expected zero correction on the reference epoch", i)
		}
	}
}

// TestCorrectEpochLinearRamp verifies a pure bilinear ramp is removed to
// numerical precision and the decomposition identity holds.
func TestCorrectEpochLinearRamp(t *testing.T) {
	const lines, cols = 60, 60
	los := models.NewRaster(lines, cols)
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			los.Set(i, j, 0.01*float64(j)+0.02*float64(i)+0.5)
		}
	}
	model := models.NewRaster(lines, cols)

	est := newEstimator(lines, cols, 3)
	ref := Window{LineStart: 5, LineEnd: 10, ColStart: 5, ColEnd: 10}
	est.Ref = &ref

	out, err := est.CorrectEpoch(los, model, 20100101)
	if err != nil {
		t.Fatalf("CorrectEpoch failed: %v", err)
	}
	if out.RMS > 1e-6 {
		t.Errorf("Expected near-zero residual RMS, got %g", out.RMS)
	}
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			flat := out.Flat.At(i, j)
			if math.IsNaN(flat) {
				continue
			}
			if math.Abs(flat) > 1e-6 {
				t.Fatalf("Pixel %d,%d: expected flattened ~0, got %g", i, j, flat)
			}
			sum := flat + out.Ramp.At(i, j) + out.Topo.At(i, j)
			if math.Abs(sum-los.At(i, j)) > 1e-9 {
				t.Fatalf("Pixel %d,%d: flat+ramp+topo=%f but input %f", i, j, sum, los.At(i, j))
			}
		}
	}
}

// TestCorrectEpochElevation verifies a displacement proportional to
// elevation ends up in the elevation term, not the flattened map.
func TestCorrectEpochElevation(t *testing.T) {
	const lines, cols = 100, 100
	los := models.NewRaster(lines, cols)
	elev := models.NewRaster(lines, cols)
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			z := 1000 + 100*float64(i%8)
			elev.Set(i, j, z)
			los.Set(i, j, 0.003*z)
		}
	}
	model := models.NewRaster(lines, cols)

	est := newEstimator(lines, cols, 3)
	est.Elevation = elev

	out, err := est.CorrectEpoch(los, model, 20100101)
	if err != nil {
		t.Fatalf("CorrectEpoch failed: %v", err)
	}
	// only pixels inside the retained elevation range are meaningful
	var worst float64
	for i := 1; i < lines-1; i++ {
		for j := 1; j < cols-1; j++ {
			z := elev.At(i, j)
			if z <= 1100 || z >= 1600 {
				continue
			}
			if d := math.Abs(out.Flat.At(i, j)); d > worst {
				worst = d
			}
		}
	}
	if worst > 0.05 {
		t.Errorf("Expected elevation term absorbed, worst flattened residual %f", worst)
	}
}

// TestCorrectEpochTooFewSamples verifies a nearly empty map is returned
// unflattened.
func TestCorrectEpochTooFewSamples(t *testing.T) {
	const lines, cols = 20, 20
	los := models.NewNaNRaster(lines, cols)
	los.Set(5, 5, 1.25)
	los.Set(6, 7, 1.5)
	model := models.NewRaster(lines, cols)

	est := newEstimator(lines, cols, 3)
	out, err := est.CorrectEpoch(los, model, 20100101)
	if err != nil {
		t.Fatalf("CorrectEpoch failed: %v", err)
	}
	if v := out.Flat.At(5, 5); v != 1.25 {
		t.Errorf("Expected untouched value 1.25, got %f", v)
	}
	for i, v := range out.Ramp.Data {
		if !math.IsNaN(out.Flat.Data[i]) && v != 0 {
			t.Errorf("Pixel %d: expected zero ramp, got %f", i, v)
		}
	}
}

// TestEffectiveModelDemotion verifies that a mostly hidden scene demotes
// high polynomial orders and disables the elevation coupling.
func TestEffectiveModelDemotion(t *testing.T) {
	const lines, cols = 100, 20
	los := models.NewNaNRaster(lines, cols)
	// only the last 30 lines visible
	for i := 70; i < lines; i++ {
		for j := 0; j < cols; j++ {
			los.Set(i, j, 1)
		}
	}
	est := newEstimator(lines, cols, 8)
	est.Ivar = 1
	est.Nfit = 1

	order, ivar, nfit := est.effectiveModel(los)
	if order != 5 {
		t.Errorf("Expected order demoted to 5, got %d", order)
	}
	if ivar != 0 || nfit != 0 {
		t.Errorf("Expected elevation coupling disabled, got ivar=%d nfit=%d", ivar, nfit)
	}

	// a fully visible scene keeps the requested model
	full := models.NewRaster(lines, cols)
	for i := range full.Data {
		full.Data[i] = 1
	}
	order, ivar, nfit = est.effectiveModel(full)
	if order != 8 || ivar != 1 || nfit != 1 {
		t.Errorf("Expected model kept on a full scene, got order=%d ivar=%d nfit=%d", order, ivar, nfit)
	}
}

// TestFlattenMask verifies the quadratic range ramp of a mask is removed
// and the result recentered.
func TestFlattenMask(t *testing.T) {
	const lines, cols = 40, 40
	mask := models.NewRaster(lines, cols)
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			y := float64(j)
			mask.Set(i, j, 0.001*y*y+0.1*y+0.05*float64(i)+2)
		}
	}
	flat := FlattenMask(mask, fullWindow(lines, cols), 0, 1e-3)

	var sum float64
	var worst float64
	for _, v := range flat.Data {
		sum += v
		if math.Abs(v) > worst {
			worst = math.Abs(v)
		}
	}
	if math.Abs(sum/float64(lines*cols)) > 1e-9 {
		t.Errorf("Expected zero-mean flattened mask, got mean %g", sum/float64(lines*cols))
	}
	if worst > 1e-6 {
		t.Errorf("Expected ramp fully removed, worst residual %g", worst)
	}
}
