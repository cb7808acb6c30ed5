// Package config provides configuration loading and management for the
// time-series decomposition. It handles loading configuration from YAML
// files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// SlowSlipEvent is one slow-slip transient: median date and
// characteristic time in fractional years.
type SlowSlipEvent struct {
	Date float64 `yaml:"date"`
	Tau  float64 `yaml:"tau"`
}

// Window is a line/column box, end-exclusive.
type Window struct {
	LineStart int `yaml:"lineStart"`
	LineEnd   int `yaml:"lineEnd"`
	ColStart  int `yaml:"colStart"`
	ColEnd    int `yaml:"colEnd"`
}

// IsZero reports whether the window was left unset.
func (w Window) IsZero() bool {
	return w.LineStart == 0 && w.LineEnd == 0 && w.ColStart == 0 && w.ColEnd == 0
}

// Config represents the run configuration loaded from YAML
type Config struct {
	// Input file paths. Cube and EpochList are required; the rasters and
	// the APS seed are optional and default to neutral values.
	Input struct {
		// Cube is the flat binary float32 displacement stack (lines x cols x epochs)
		Cube string `yaml:"cube"`

		// EpochList is the text file listing epoch id, date and baseline per image
		EpochList string `yaml:"epochList"`

		// Lines and Cols give the spatial shape of the cube
		Lines int `yaml:"lines"`
		Cols  int `yaml:"cols"`

		// APS is an optional per-epoch uncertainty seed file
		APS string `yaml:"aps"`

		// Mask, Elevation, Aspect, PixelRMS are optional float32 rasters
		Mask      string `yaml:"mask"`
		Elevation string `yaml:"elevation"`
		Aspect    string `yaml:"aspect"`
		PixelRMS  string `yaml:"pixelRMS"`

		// RefEpoch is the 1-based reference image number
		RefEpoch int `yaml:"refEpoch"`

		// DateMin/DateMax bound the epochs kept for the run (decimal years);
		// zero means unbounded
		DateMin float64 `yaml:"dateMin"`
		DateMax float64 `yaml:"dateMax"`
	} `yaml:"input"`

	// Basis selects the temporal functions of the decomposition
	Basis struct {
		Linear     bool `yaml:"linear"`
		Seasonal   bool `yaml:"seasonal"`
		Semiannual bool `yaml:"semiannual"`

		// Coseismic lists step dates (decimal years). Postseismic lists the
		// characteristic time of the log transient attached to each step;
		// a value <= 0 means no transient for that step. Both lists must
		// have the same length.
		Coseismic   []float64 `yaml:"coseismic"`
		Postseismic []float64 `yaml:"postseismic"`

		SlowSlip []SlowSlipEvent `yaml:"slowSlip"`

		// DEM adds a term proportional to the perpendicular baseline
		DEM bool `yaml:"dem"`

		// Vectors are text files with one value per epoch
		Vectors []string `yaml:"vectors"`
	} `yaml:"basis"`

	// Spatial controls the per-epoch ramp and phase/elevation estimation
	Spatial struct {
		// Order selects the ramp polynomial, 0 to 9
		Order int `yaml:"order"`

		// Ivar selects the elevation coupling: 0 elevation only,
		// 1 crossed elevation and azimuth
		Ivar int `yaml:"ivar"`

		// Nfit selects the elevation fit degree: 0 linear, 1 quadratic
		Nfit int `yaml:"nfit"`

		PercLOS  float64 `yaml:"percLOS"`
		PercTopo float64 `yaml:"percTopo"`

		ThresholdRMS  float64 `yaml:"thresholdRMS"`
		ThresholdMask float64 `yaml:"thresholdMask"`
		ScaleMask     float64 `yaml:"scaleMask"`

		// RampMask flattens the mask raster before thresholding
		RampMask bool `yaml:"rampMask"`

		// TempMask also applies the thresholded mask to the temporal fit
		TempMask bool `yaml:"tempMask"`

		// Ref is the window where the flattened phase is forced to zero
		Ref Window `yaml:"ref"`

		// Crop bounds the temporal decomposition; CropEmp bounds the
		// spatial estimation. Zero means the full scene.
		Crop    Window `yaml:"crop"`
		CropEmp Window `yaml:"cropEmp"`
	} `yaml:"spatial"`

	// Processing parameters
	Processing struct {
		// Workers is the fixed worker-pool size
		Workers int `yaml:"workers"`

		// Iterations is the outer iteration count
		Iterations int `yaml:"iterations"`

		// SpatialIter re-estimates ramps at every iteration instead of
		// only the first
		SpatialIter bool `yaml:"spatialIter"`

		// Sampling is the pixel subsampling factor of the temporal pass
		Sampling int `yaml:"sampling"`

		// Cond is the singular-value cutoff of the truncated SVD
		Cond float64 `yaml:"cond"`

		// Ineq enables the sign-constrained coseismic/postseismic refinement
		Ineq bool `yaml:"ineq"`

		// MaxIter and Acc bound the constrained refinement
		MaxIter int     `yaml:"maxIter"`
		Acc     float64 `yaml:"acc"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Dir is where maps and cubes are written
		Dir string `yaml:"dir"`

		// Full also writes model, residual, ramp and component-removed cubes
		Full bool `yaml:"full"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Cube = "depl_cumule"
	cfg.Input.EpochList = "images_retenues"
	cfg.Input.RefEpoch = 1

	cfg.Basis.Linear = true

	cfg.Spatial.Order = 0
	cfg.Spatial.PercLOS = 98
	cfg.Spatial.PercTopo = 90
	cfg.Spatial.ThresholdRMS = 1
	cfg.Spatial.ScaleMask = 1

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.Iterations = 1
	cfg.Processing.Sampling = 1
	cfg.Processing.Cond = 1e-3
	cfg.Processing.MaxIter = 2000
	cfg.Processing.Acc = 1e-12

	cfg.Output.Dir = "."

	return cfg
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file
func Save(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for structural errors. These abort the
// run before any estimation work begins.
func (cfg *Config) Validate() error {
	if len(cfg.Basis.Postseismic) > 0 &&
		len(cfg.Basis.Postseismic) != len(cfg.Basis.Coseismic) {
		return fmt.Errorf("coseismic and postseismic lists are not the same size: %d vs %d",
			len(cfg.Basis.Coseismic), len(cfg.Basis.Postseismic))
	}
	if cfg.Spatial.Order < 0 || cfg.Spatial.Order > 9 {
		return fmt.Errorf("ramp order %d out of range 0-9", cfg.Spatial.Order)
	}
	if cfg.Spatial.Ivar < 0 || cfg.Spatial.Ivar > 1 {
		return fmt.Errorf("ivar %d out of range 0-1", cfg.Spatial.Ivar)
	}
	if cfg.Spatial.Nfit < 0 || cfg.Spatial.Nfit > 1 {
		return fmt.Errorf("nfit %d out of range 0-1", cfg.Spatial.Nfit)
	}
	if cfg.Processing.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Processing.Workers)
	}
	if cfg.Processing.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", cfg.Processing.Iterations)
	}
	if cfg.Processing.Sampling < 1 {
		return fmt.Errorf("sampling must be at least 1, got %d", cfg.Processing.Sampling)
	}
	for i, sse := range cfg.Basis.SlowSlip {
		if sse.Tau <= 0 {
			return fmt.Errorf("slow-slip event %d has non-positive characteristic time", i)
		}
	}
	return nil
}
