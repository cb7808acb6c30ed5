package ramp

import (
	"log"
	"math"

	"gonum.org/v1/gonum/mat"

	"insardecomp/internal/models"
	"insardecomp/pkg/robust"
	"insardecomp/pkg/solver"
)

// refRMS is the RMS sentinel reported for the reference epoch, which is
// skipped entirely.
const refRMS = 1.0

// Window is a line/column box, end-exclusive.
type Window struct {
	LineStart, LineEnd int
	ColStart, ColEnd   int
}

// Estimator holds the static inputs and switches of the per-epoch spatial
// estimation. All rasters share the stack footprint; Elevation, Aspect,
// Mask and PixelRMS may be nil for neutral behaviour.
type Estimator struct {
	Order int
	Ivar  int
	Nfit  int

	PercLOS  float64
	PercTopo float64

	ThresholdMask float64
	ThresholdRMS  float64

	Cond float64

	Elevation *models.Raster
	Aspect    *models.Raster
	Mask      *models.Raster
	PixelRMS  *models.Raster

	// Crop bounds the pixels whose coordinates may enter the fit;
	// CropEmp bounds the estimation window itself. Ref, when set,
	// re-references the flattened map to a zero-mean window.
	Crop    Window
	CropEmp Window
	Ref     *Window
}

// Result is the outcome of one epoch correction.
type Result struct {
	// Ramp, Topo and Flat satisfy Flat = original - Ramp - Topo.
	Ramp *models.Raster
	Topo *models.Raster
	Flat *models.Raster

	// NoRamp is the original with only the ramp removed.
	NoRamp *models.Raster

	// RMS is the root-mean-square of the full-resolution residual.
	RMS float64
}

// CorrectEpoch estimates and removes the spatial ramp and the
// phase/elevation term of one epoch. los is the raw displacement map,
// model the current temporal model of the same epoch (zero on the first
// iteration). The reference epoch, recognized by an all-zero map, is
// passed through untouched.
func (e *Estimator) CorrectEpoch(los, model *models.Raster, date int) (Result, error) {
	lines, cols := los.Lines, los.Cols

	if los.NaNSum() == 0 {
		return Result{
			Ramp:   models.NewRaster(lines, cols),
			Topo:   models.NewRaster(lines, cols),
			Flat:   los.Clone(),
			NoRamp: los.Clone(),
			RMS:    refRMS,
		}, nil
	}

	// model-subtracted residual, percentile-screened
	resid := los.Clone()
	for i, v := range model.Data {
		resid.Data[i] = los.Data[i] - v
	}
	e.clipLOS(resid)

	order, ivar, nfit := e.effectiveModel(los)

	minTopo, maxTopo := 0.0, 2.0
	if e.Elevation != nil {
		maxTopo = robust.Percentile(e.Elevation.Data, e.PercTopo)
		minTopo = robust.Percentile(e.Elevation.Data, 100-e.PercTopo)
	}

	if order == 0 && e.Elevation == nil {
		// reference frame only: nothing to fit
		return Result{
			Ramp:   models.NewRaster(lines, cols),
			Topo:   models.NewRaster(lines, cols),
			Flat:   los.Clone(),
			NoRamp: los.Clone(),
			RMS:    nanRMS(los.Data),
		}, nil
	}

	az, rg, losClean, topoClean, rmsClean := e.selectSamples(resid, minTopo, maxTopo, e.CropEmp)
	design := NewDesign(order, ivar, nfit, e.Elevation != nil)

	data, wgt, sampAz, sampRg, sampZ := e.sampleSet(losClean, topoClean, az, rg, rmsClean, minTopo, maxTopo)
	if len(data) < design.NumCols() {
		log.Printf("ramp: date %d: %d robust samples for %d parameters, keeping map unflattened",
			date, len(data), design.NumCols())
		flat := los.Clone()
		return Result{
			Ramp:   models.NewRaster(lines, cols),
			Topo:   models.NewRaster(lines, cols),
			Flat:   flat,
			NoRamp: los.Clone(),
			RMS:    nanRMS(los.Data),
		}, nil
	}

	pars := e.fit(design, data, wgt, sampAz, sampRg, sampZ)

	// reconstruct over the full grid and split at the ramp boundary
	rampMap := models.NewRaster(lines, cols)
	topoMap := models.NewRaster(lines, cols)
	flat := models.NewRaster(lines, cols)
	noRamp := models.NewRaster(lines, cols)
	var sum float64
	var n int
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			z := 0.0
			if e.Elevation != nil {
				z = e.Elevation.At(i, j)
			}
			r, t := design.Split(pars,
				float64(i-e.CropEmp.LineStart), float64(j-e.CropEmp.ColStart), z)
			if math.IsNaN(z) {
				t = math.NaN()
			}
			rampMap.Set(i, j, r)
			topoMap.Set(i, j, t)
			v := los.At(i, j)
			flat.Set(i, j, v-r-t)
			noRamp.Set(i, j, v-r)
			if res := v - r - t; !math.IsNaN(res) {
				sum += res * res
				n++
			}
		}
	}
	rms := math.NaN()
	if n > 0 {
		rms = math.Sqrt(sum / float64(n))
	}

	if e.Ref != nil {
		cst := e.referenceConstant(flat, resid, minTopo, maxTopo)
		if math.IsNaN(cst) {
			log.Printf("ramp: date %d: reference window constant is NaN, keeping unconstrained reference", date)
		} else {
			for i := range flat.Data {
				rampMap.Data[i] += cst
				flat.Data[i] -= cst
				noRamp.Data[i] -= cst
			}
		}
	}

	// ramp and topo inherit the flattened map's NaN mask
	for i, v := range flat.Data {
		if math.IsNaN(v) {
			rampMap.Data[i] = math.NaN()
			topoMap.Data[i] = math.NaN()
		}
	}

	return Result{Ramp: rampMap, Topo: topoMap, Flat: flat, NoRamp: noRamp, RMS: rms}, nil
}

// clipLOS hides residual outliers beyond the [100-percLOS, percLOS]
// percentile range, and zero values, inside the estimation window.
func (e *Estimator) clipLOS(resid *models.Raster) {
	w := e.CropEmp
	var window []float64
	for i := w.LineStart; i < w.LineEnd; i++ {
		for j := w.ColStart; j < w.ColEnd; j++ {
			window = append(window, resid.At(i, j))
		}
	}
	maxLOS := robust.Percentile(window, e.PercLOS)
	minLOS := robust.Percentile(window, 100-e.PercLOS)
	for i, v := range resid.Data {
		if v == 0 || v > maxLOS || v < minLOS {
			resid.Data[i] = math.NaN()
		}
	}
}

// effectiveModel demotes the polynomial order and elevation coupling when
// the visible part of the scene is short compared with the estimation
// window, to avoid over-fitting sparse truncated coverage.
func (e *Estimator) effectiveModel(los *models.Raster) (order, ivar, nfit int) {
	order, ivar, nfit = e.Order, e.Ivar, e.Nfit

	w := e.CropEmp
	first := w.LineStart
	for line := w.LineStart; line < w.LineEnd; line += 10 {
		if blockAllNaN(los, line, min(line+10, w.LineEnd)) {
			first = line
		} else {
			break
		}
	}
	short := float64(w.LineEnd-first) < 0.6*float64(w.LineEnd-w.LineStart)
	if short && order > 5 {
		log.Printf("ramp: visible scene too short, demoting order %d to 5", order)
		order = 5
	}
	if short && ivar > 0 {
		log.Printf("ramp: visible scene too short, disabling elevation/azimuth coupling")
		ivar, nfit = 0, 0
	}
	return order, ivar, nfit
}

func blockAllNaN(r *models.Raster, lineStart, lineEnd int) bool {
	for i := lineStart; i < lineEnd; i++ {
		for j := 0; j < r.Cols; j++ {
			if !math.IsNaN(r.At(i, j)) {
				return false
			}
		}
	}
	return true
}

// selectSamples applies the validity mask of the estimation: elevation
// inside the percentile range, mask above threshold, pixel RMS inside
// (1e-6, threshold), positive aspect slope, finite residual, coordinates
// inside the window.
func (e *Estimator) selectSamples(resid *models.Raster, minTopo, maxTopo float64, w Window) (az, rg, los, topo, rms []float64) {
	for i := w.LineStart; i < w.LineEnd; i++ {
		for j := w.ColStart; j < w.ColEnd; j++ {
			v := resid.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			z := 1.0
			if e.Elevation != nil {
				z = e.Elevation.At(i, j)
				if math.IsNaN(z) || z <= minTopo || z >= maxTopo {
					continue
				}
			}
			if e.Mask != nil && !(e.Mask.At(i, j) > e.ThresholdMask) {
				continue
			}
			r := 1.0
			if e.PixelRMS != nil {
				r = e.PixelRMS.At(i, j)
				if math.IsNaN(r) || r >= e.ThresholdRMS || r <= 1e-6 {
					continue
				}
			}
			if e.Aspect != nil && !(e.Aspect.At(i, j) > 0) {
				continue
			}
			if i <= e.Crop.LineStart || i >= e.Crop.LineEnd ||
				j <= e.Crop.ColStart || j >= e.Crop.ColEnd {
				continue
			}
			az = append(az, float64(i-e.CropEmp.LineStart))
			rg = append(rg, float64(j-e.CropEmp.ColStart))
			los = append(los, v)
			topo = append(topo, z)
			rms = append(rms, r)
		}
	}
	return az, rg, los, topo, rms
}

// sampleSet returns the observations entering the fit: the raw screened
// pixels when no elevation raster is present, otherwise the robust
// per-bin medians with their dispersion as weights.
func (e *Estimator) sampleSet(los, topo, az, rg, rms []float64, minTopo, maxTopo float64) (data, wgt, sampAz, sampRg, sampZ []float64) {
	if e.Elevation == nil {
		return los, rms, az, rg, topo
	}
	bins := robust.BinByElevation(topo, los, az, rg, minTopo, maxTopo, 500, 100)
	if len(bins) == 0 {
		// not enough dense bins; fall back to the screened pixels
		return los, rms, az, rg, topo
	}
	for _, b := range bins {
		data = append(data, b.LOS)
		wgt = append(wgt, b.Std)
		sampAz = append(sampAz, b.Az)
		sampRg = append(sampRg, b.Rg)
		sampZ = append(sampZ, b.Elev)
	}
	return data, wgt, sampAz, sampRg, sampZ
}

// fit solves the weighted linear model with the truncated-SVD solver,
// scaling each observation row by its inverse dispersion.
func (e *Estimator) fit(design Design, data, wgt, az, rg, z []float64) []float64 {
	rows := len(data)
	g := mat.NewDense(rows, design.NumCols(), nil)
	b := make([]float64, rows)
	row := make([]float64, design.NumCols())
	for i := 0; i < rows; i++ {
		design.Row(row, az[i], rg[i], z[i])
		w := wgt[i]
		if math.IsNaN(w) || w <= 0 {
			w = 1
		}
		for j, v := range row {
			g.Set(i, j, v/w)
		}
		b[i] = data[i] / w
	}
	return solver.InvSVD(g, b, e.Cond)
}

// referenceConstant estimates the additive constant left inside the
// reference window, weighted by inverse pixel RMS, so the window reads
// zero after subtraction.
func (e *Estimator) referenceConstant(flat, resid *models.Raster, minTopo, maxTopo float64) float64 {
	w := *e.Ref
	var num, den float64
	var maxAmp float64
	type sample struct{ v, amp float64 }
	var picks []sample
	for i := w.LineStart; i < w.LineEnd; i++ {
		for j := w.ColStart; j < w.ColEnd; j++ {
			if i < 0 || i >= flat.Lines || j < 0 || j >= flat.Cols {
				continue
			}
			if math.IsNaN(resid.At(i, j)) {
				continue
			}
			if e.Elevation != nil {
				z := e.Elevation.At(i, j)
				if math.IsNaN(z) || z <= minTopo || z >= maxTopo {
					continue
				}
			}
			if e.Mask != nil && !(e.Mask.At(i, j) > e.ThresholdMask) {
				continue
			}
			amp := 1.0
			if e.PixelRMS != nil {
				r := e.PixelRMS.At(i, j)
				if math.IsNaN(r) || r >= e.ThresholdRMS || r <= 1e-6 {
					continue
				}
				amp = 1 / r
			}
			v := flat.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			picks = append(picks, sample{v, amp})
			if amp > maxAmp {
				maxAmp = amp
			}
		}
	}
	if len(picks) == 0 || maxAmp == 0 {
		return math.NaN()
	}
	for _, s := range picks {
		a := s.amp / maxAmp
		num += s.v * a
		den += a
	}
	return num / den
}

func nanRMS(v []float64) float64 {
	var sum float64
	var n int
	for _, x := range v {
		if !math.IsNaN(x) {
			sum += x * x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sum / float64(n))
}
