// Package pipeline assembles the full estimation from a configuration:
// input loading, mask preparation, the alternating spatial/temporal
// passes, and the output products.
package pipeline

import (
	"fmt"
	"log"
	"math"
	"runtime"

	"insardecomp/internal/models"
	"insardecomp/pkg/config"
	"insardecomp/pkg/decomp"
	"insardecomp/pkg/ramp"
	"insardecomp/pkg/solver"
	"insardecomp/pkg/stackio"
	"insardecomp/pkg/timefunc"
)

// Pipeline holds the loaded inputs of one run.
type Pipeline struct {
	cfg   *config.Config
	stack *models.Stack
	lib   *timefunc.Library

	elevation *models.Raster
	aspect    *models.Raster
	mask      *models.Raster
	pixelRMS  *models.Raster
	apsSeed   []float64
}

// New loads every input named by the configuration.
func New(cfg *config.Config) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg}

	full, err := stackio.ReadEpochList(cfg.Input.EpochList)
	if err != nil {
		return nil, fmt.Errorf("epoch list: %w", err)
	}
	epochs := full
	if cfg.Input.DateMin > 0 || cfg.Input.DateMax > 0 {
		dmin, dmax := cfg.Input.DateMin, cfg.Input.DateMax
		if dmax == 0 {
			dmax = math.Inf(1)
		}
		epochs = stackio.FilterEpochs(full, dmin, dmax)
		log.Printf("pipeline: %d of %d epochs between %.2f and %.2f", len(epochs), len(full), dmin, dmax)
		if len(epochs) == 0 {
			return nil, fmt.Errorf("no epochs between %.2f and %.2f", dmin, dmax)
		}
	}

	// RefEpoch is a 1-based image number in the full list; it must
	// survive the date filter.
	refFull := cfg.Input.RefEpoch - 1
	if refFull < 0 || refFull >= len(full) {
		return nil, fmt.Errorf("reference epoch %d outside image list of %d", cfg.Input.RefEpoch, len(full))
	}
	refIdx := -1
	for _, e := range epochs {
		if e.Date == full[refFull].Date {
			refIdx = e.Index
		}
	}
	if refIdx < 0 {
		return nil, fmt.Errorf("reference epoch %d excluded by the date bounds", full[refFull].Date)
	}

	stack, err := stackio.ReadCube(cfg.Input.Cube, cfg.Input.Lines, cfg.Input.Cols, len(full), refFull)
	if err != nil {
		return nil, fmt.Errorf("cube: %w", err)
	}
	keep := make([]int, len(epochs))
	for i, e := range epochs {
		for _, fe := range full {
			if fe.Date == e.Date {
				keep[i] = fe.Index
			}
		}
	}
	stack = stackio.SubsetEpochs(stack, keep)
	stack.Epochs = epochs
	p.stack = stack

	if err := p.loadAuxiliary(); err != nil {
		return nil, err
	}
	p.applyMasksAndWindows()
	p.lib = buildLibrary(cfg, epochs, refIdx)
	return p, nil
}

func (p *Pipeline) loadAuxiliary() error {
	cfg := p.cfg
	lines, cols := cfg.Input.Lines, cfg.Input.Cols

	var err error
	if cfg.Input.Elevation != "" {
		if p.elevation, err = stackio.ReadRaster(cfg.Input.Elevation, lines, cols, 1); err != nil {
			return fmt.Errorf("elevation: %w", err)
		}
	}
	if cfg.Input.Aspect != "" {
		if p.aspect, err = stackio.ReadRaster(cfg.Input.Aspect, lines, cols, 1); err != nil {
			return fmt.Errorf("aspect: %w", err)
		}
	}
	if cfg.Input.Mask != "" {
		if p.mask, err = stackio.ReadRaster(cfg.Input.Mask, lines, cols, cfg.Spatial.ScaleMask); err != nil {
			return fmt.Errorf("mask: %w", err)
		}
	}
	if cfg.Input.PixelRMS != "" {
		if p.pixelRMS, err = stackio.ReadRaster(cfg.Input.PixelRMS, lines, cols, 1); err != nil {
			return fmt.Errorf("pixel rms: %w", err)
		}
	}
	if cfg.Input.APS != "" {
		seed, err := stackio.ReadColumn(cfg.Input.APS)
		if err != nil {
			return fmt.Errorf("aps seed: %w", err)
		}
		if len(seed) != p.stack.N() {
			return fmt.Errorf("aps seed: %d values for %d epochs", len(seed), p.stack.N())
		}
		p.apsSeed = seed
	}
	return nil
}

// applyMasksAndWindows prepares the mask raster and hides pixels outside
// the crop window at every epoch.
func (p *Pipeline) applyMasksAndWindows() {
	cfg := p.cfg
	empWin := p.window(cfg.Spatial.CropEmp)

	if p.mask != nil {
		if cfg.Spatial.RampMask {
			p.mask = ramp.FlattenMask(p.mask, empWin, cfg.Spatial.ThresholdMask, cfg.Processing.Cond)
		} else {
			ramp.CleanMask(p.mask)
		}
		if cfg.Spatial.TempMask {
			ramp.ApplyTempMask(p.stack.Maps, p.mask, empWin, cfg.Spatial.ThresholdMask)
		}
	}

	if !cfg.Spatial.Crop.IsZero() {
		w := p.window(cfg.Spatial.Crop)
		for _, m := range p.stack.Maps {
			stackio.Crop(m, w.LineStart, w.LineEnd, w.ColStart, w.ColEnd)
		}
	}

	if cfg.Processing.Sampling > 1 {
		step := cfg.Processing.Sampling
		maps := make([]*models.Raster, len(p.stack.Maps))
		for k, m := range p.stack.Maps {
			maps[k] = stackio.Decimate(m, step)
		}
		p.stack = &models.Stack{Epochs: p.stack.Epochs, Maps: maps, Lines: maps[0].Lines, Cols: maps[0].Cols}
		if p.elevation != nil {
			p.elevation = stackio.Decimate(p.elevation, step)
		}
		if p.aspect != nil {
			p.aspect = stackio.Decimate(p.aspect, step)
		}
		if p.mask != nil {
			p.mask = stackio.Decimate(p.mask, step)
		}
		if p.pixelRMS != nil {
			p.pixelRMS = stackio.Decimate(p.pixelRMS, step)
		}
	}
}

// window resolves a possibly-zero config window against the stack shape.
func (p *Pipeline) window(w config.Window) ramp.Window {
	out := ramp.Window{
		LineStart: w.LineStart, LineEnd: w.LineEnd,
		ColStart: w.ColStart, ColEnd: w.ColEnd,
	}
	if w.IsZero() {
		out.LineEnd = p.stack.Lines
		out.ColEnd = p.stack.Cols
	}
	return out
}

// Run executes the estimation and writes every product.
func (p *Pipeline) Run() (*decomp.Result, error) {
	cfg := p.cfg

	workers := cfg.Processing.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	est := &ramp.Estimator{
		Order:         cfg.Spatial.Order,
		Ivar:          cfg.Spatial.Ivar,
		Nfit:          cfg.Spatial.Nfit,
		PercLOS:       cfg.Spatial.PercLOS,
		PercTopo:      cfg.Spatial.PercTopo,
		ThresholdMask: cfg.Spatial.ThresholdMask,
		ThresholdRMS:  cfg.Spatial.ThresholdRMS,
		Cond:          cfg.Processing.Cond,
		Elevation:     p.elevation,
		Aspect:        p.aspect,
		Mask:          p.mask,
		PixelRMS:      p.pixelRMS,
		Crop:          p.window(cfg.Spatial.Crop),
		CropEmp:       p.window(cfg.Spatial.CropEmp),
	}
	if !cfg.Spatial.Ref.IsZero() {
		w := p.window(cfg.Spatial.Ref)
		est.Ref = &w
	}

	params := solver.Params{
		Cond:    cfg.Processing.Cond,
		MaxIter: cfg.Processing.MaxIter,
		Acc:     cfg.Processing.Acc,
	}
	dec := decomp.NewDecomposer(p.lib, p.stack.Dates(), params)

	ctrl := &decomp.Controller{
		Stack:        p.stack,
		Estimator:    est,
		Decomposer:   dec,
		Lib:          p.lib,
		Iterations:   cfg.Processing.Iterations,
		SpatialEvery: cfg.Processing.SpatialIter,
		Constrained:  cfg.Processing.Ineq,
		Workers:      workers,
		APSSeed:      p.apsSeed,
	}
	res, err := ctrl.Run()
	if err != nil {
		return nil, err
	}

	w := &stackio.Writer{Dir: cfg.Output.Dir, Full: cfg.Output.Full}
	if err := w.WriteAll(p.stack, p.lib, res); err != nil {
		return nil, fmt.Errorf("write outputs: %w", err)
	}
	return res, nil
}

// Stack exposes the loaded, masked and cropped stack.
func (p *Pipeline) Stack() *models.Stack { return p.stack }

// Library exposes the temporal function library of the run.
func (p *Pipeline) Library() *timefunc.Library { return p.lib }

// buildLibrary translates the basis configuration into the function
// library. Every time function is anchored on the first kept date, so
// coefficients read as displacement since the start of the series; the
// baseline kernel stays keyed to the reference image.
func buildLibrary(cfg *config.Config, epochs []models.Epoch, refIdx int) *timefunc.Library {
	opts := timefunc.Options{
		RefDate:    epochs[0].DecimalDate,
		Linear:     cfg.Basis.Linear,
		Seasonal:   cfg.Basis.Seasonal,
		Semiannual: cfg.Basis.Semiannual,
		Coseismic:  cfg.Basis.Coseismic,
		DEM:        cfg.Basis.DEM,
		RefBase:    epochs[refIdx].Baseline,
	}
	opts.Postseismic = cfg.Basis.Postseismic
	for _, sse := range cfg.Basis.SlowSlip {
		opts.SlowSlip = append(opts.SlowSlip, [2]float64{sse.Date, sse.Tau})
	}
	if cfg.Basis.DEM {
		for _, e := range epochs {
			opts.Baselines = append(opts.Baselines, e.Baseline)
		}
	}
	for i, path := range cfg.Basis.Vectors {
		v, err := stackio.ReadColumn(path)
		if err != nil || len(v) != len(epochs) {
			log.Printf("pipeline: vector %d (%s) unusable, skipping", i, path)
			continue
		}
		opts.Vectors = append(opts.Vectors, v)
		opts.VectorLabels = append(opts.VectorLabels, fmt.Sprintf("vector_%d", i))
	}
	return timefunc.NewLibrary(opts)
}
