package decomp

import (
	"fmt"
	"log"
	"math"
	"sync"

	"insardecomp/internal/models"
	"insardecomp/pkg/ramp"
	"insardecomp/pkg/robust"
	"insardecomp/pkg/timefunc"
)

// apsFloorPercentile clips the smallest epoch weights so no epoch can
// dominate the weighted inversion.
const apsFloorPercentile = 2.0

// Controller runs the alternating spatial/temporal estimation over the
// whole stack.
type Controller struct {
	Stack      *models.Stack
	Estimator  *ramp.Estimator
	Decomposer *Decomposer
	Lib        *timefunc.Library

	// Iterations is the number of temporal passes; SpatialEvery re-runs
	// the ramp estimation before each of them instead of only the first.
	Iterations   int
	SpatialEvery bool
	Constrained  bool
	Workers      int

	// APSSeed, when non-nil, replaces the first-iteration weight
	// estimate from the spatial residuals.
	APSSeed []float64
}

// Result gathers the final state of the estimation.
type Result struct {
	// Coeff[c] and Sigma[c] are the parameter and uncertainty maps of
	// library column c, in library order (tags via Lib.Reductions).
	Coeff []*models.Raster
	Sigma []*models.Raster

	// Flat is the stack after ramp/elevation correction; Ramp and Topo
	// hold the subtracted fields, Model the fitted series, NoRamp the
	// stack with only the ramp removed.
	Flat   []*models.Raster
	Ramp   []*models.Raster
	Topo   []*models.Raster
	Model  []*models.Raster
	NoRamp []*models.Raster

	// Trend, Seasonal and Vector are the component cubes, nil when the
	// corresponding columns are absent.
	Trend    []*models.Raster
	Seasonal []*models.Raster
	Vector   []*models.Raster

	// APS[i] is the per-epoch weight used by temporal iteration i;
	// RMS[i] the per-epoch spatial RMS of that iteration's ramp pass.
	APS [][]float64
	RMS [][]float64
}

// Run executes the configured number of iterations and returns the
// final maps.
func (c *Controller) Run() (*Result, error) {
	n := c.Stack.N()
	lines, cols := c.Stack.Lines, c.Stack.Cols

	res := &Result{
		Flat: make([]*models.Raster, n),
	}
	for k, m := range c.Stack.Maps {
		res.Flat[k] = m.Clone()
	}
	res.Model = make([]*models.Raster, n)
	for k := range res.Model {
		res.Model[k] = models.NewRaster(lines, cols)
	}

	inaps := make([]float64, n)
	for k := range inaps {
		inaps[k] = 1
	}
	if c.APSSeed != nil {
		copy(inaps, c.APSSeed)
		robust.FloorAtPercentile(inaps, apsFloorPercentile)
	}

	for it := 0; it < c.Iterations; it++ {
		log.Printf("decomp: iteration %d/%d", it+1, c.Iterations)

		if it == 0 || c.SpatialEvery {
			rms, err := c.spatialPass(res)
			if err != nil {
				return nil, err
			}
			res.RMS = append(res.RMS, rms)
			if it == 0 && c.APSSeed == nil {
				inaps = weightsFromRMS(rms)
			}
		}
		log.Printf("decomp: epoch uncertainties for iteration %d: %v", it, round(inaps))

		misfit, err := c.temporalPass(res, inaps)
		if err != nil {
			return nil, err
		}
		res.APS = append(res.APS, append([]float64(nil), inaps...))
		inaps = misfit
	}
	return res, nil
}

// spatialPass re-estimates the ramp of every epoch from the raw maps
// minus the current temporal model, in parallel over epochs. Fitting
// against the raw maps keeps each pass's flattened output equal to
// original minus ramp minus topography, whatever the iteration count.
func (c *Controller) spatialPass(res *Result) ([]float64, error) {
	n := c.Stack.N()
	rms := make([]float64, n)
	ramps := make([]*models.Raster, n)
	topos := make([]*models.Raster, n)
	noramps := make([]*models.Raster, n)

	err := runParallel(c.Workers, n, func(start, end int) error {
		for k := start; k < end; k++ {
			out, err := c.Estimator.CorrectEpoch(c.Stack.Maps[k], res.Model[k], c.Stack.Epochs[k].Date)
			if err != nil {
				return fmt.Errorf("spatial correction of epoch %d: %w", c.Stack.Epochs[k].Date, err)
			}
			res.Flat[k] = out.Flat
			ramps[k] = out.Ramp
			topos[k] = out.Topo
			noramps[k] = out.NoRamp
			rms[k] = out.RMS
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Ramp, res.Topo, res.NoRamp = ramps, topos, noramps
	return rms, nil
}

// temporalPass inverts every pixel of the flattened stack, scatters the
// parameters into maps and returns the next per-epoch weights.
func (c *Controller) temporalPass(res *Result, inaps []float64) ([]float64, error) {
	n := c.Stack.N()
	lines, cols := c.Stack.Lines, c.Stack.Cols
	npix := lines * cols
	m := c.Lib.M()

	res.Coeff = nanRasters(m, lines, cols)
	res.Sigma = nanRasters(m, lines, cols)
	for k := range res.Model {
		res.Model[k] = models.NewNaNRaster(lines, cols)
	}
	res.Trend = componentCube(c.Lib.Linear >= 0, n, lines, cols)
	res.Seasonal = componentCube(c.Lib.Seasonal >= 0, n, lines, cols)
	res.Vector = componentCube(len(c.Lib.Vectors) > 0, n, lines, cols)

	misfitSum := make([]float64, n)
	misfitCount := make([]float64, n)
	var mu sync.Mutex

	err := runParallel(c.Workers, npix, func(start, end int) error {
		series := make([]float64, n)
		localSum := make([]float64, n)
		localCount := make([]float64, n)
		for p := start; p < end; p++ {
			for k := 0; k < n; k++ {
				series[k] = res.Flat[k].Data[p]
			}
			px, err := c.Decomposer.DecomposePixel(series, inaps, c.Constrained)
			if err != nil {
				return fmt.Errorf("pixel %d/%d: %w", p/cols, p%cols, err)
			}
			if !px.Valid {
				continue
			}
			for col := 0; col < m; col++ {
				res.Coeff[col].Data[p] = px.Coeff[col]
				res.Sigma[col].Data[p] = px.Sigma[col]
			}
			for k := 0; k < n; k++ {
				res.Model[k].Data[p] = px.Model[k]
				if res.Trend != nil {
					res.Trend[k].Data[p] = px.Linear[k]
				}
				if res.Seasonal != nil {
					res.Seasonal[k].Data[p] = px.Seasonal[k]
				}
				if res.Vector != nil {
					res.Vector[k].Data[p] = px.Vector[k]
				}
				if !math.IsNaN(px.Misfit[k]) {
					localSum[k] += px.Misfit[k]
					localCount[k]++
				}
			}
		}
		mu.Lock()
		for k := 0; k < n; k++ {
			misfitSum[k] += localSum[k]
			misfitCount[k] += localCount[k]
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	next := make([]float64, n)
	var worst float64
	for k := range next {
		if misfitCount[k] > 0 {
			next[k] = misfitSum[k] / misfitCount[k]
			if next[k] > worst {
				worst = next[k]
			}
		} else {
			next[k] = math.NaN()
		}
	}
	if worst == 0 {
		worst = 1
	}
	// an epoch with no inverted pixel gets the worst weight
	for k, v := range next {
		if math.IsNaN(v) {
			next[k] = worst
		}
	}
	robust.FloorAtPercentile(next, apsFloorPercentile)
	return next, nil
}

// weightsFromRMS converts the spatial RMS of the first ramp pass into
// normalized per-epoch weights.
func weightsFromRMS(rms []float64) []float64 {
	w := make([]float64, len(rms))
	var max float64
	for _, v := range rms {
		if !math.IsNaN(v) && v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}
	for k, v := range rms {
		w[k] = v / max
	}
	robust.FloorAtPercentile(w, apsFloorPercentile)
	return w
}

// SeasonalAmpPhase converts a cosine/sine coefficient pair and its
// uncertainties into amplitude and phase maps with propagated errors.
func SeasonalAmpPhase(cos, sin, sigCos, sigSin *models.Raster) (amp, phi, sigAmp, sigPhi *models.Raster) {
	lines, cols := cos.Lines, cos.Cols
	amp = models.NewNaNRaster(lines, cols)
	phi = models.NewNaNRaster(lines, cols)
	sigAmp = models.NewNaNRaster(lines, cols)
	sigPhi = models.NewNaNRaster(lines, cols)
	for i, cv := range cos.Data {
		sv := sin.Data[i]
		if math.IsNaN(cv) || math.IsNaN(sv) {
			continue
		}
		amp.Data[i] = math.Sqrt(cv*cv + sv*sv)
		phi.Data[i] = math.Atan2(sv, cv)
		sc, ss := sigCos.Data[i], sigSin.Data[i]
		sigAmp.Data[i] = math.Sqrt(sc*sc + ss*ss)
		if d := sc*sc + ss*ss; d > 0 {
			sigPhi.Data[i] = (sc*math.Abs(sv) + ss*math.Abs(cv)) / d
		}
	}
	return amp, phi, sigAmp, sigPhi
}

func round(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Round(x*1e4) / 1e4
	}
	return out
}

func nanRasters(n, lines, cols int) []*models.Raster {
	out := make([]*models.Raster, n)
	for i := range out {
		out[i] = models.NewNaNRaster(lines, cols)
	}
	return out
}

func componentCube(present bool, n, lines, cols int) []*models.Raster {
	if !present {
		return nil
	}
	return nanRasters(n, lines, cols)
}
