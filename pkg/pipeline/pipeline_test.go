package pipeline

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"insardecomp/internal/models"
	"insardecomp/pkg/config"
	"insardecomp/pkg/stackio"
	"insardecomp/pkg/timefunc"
)

// writeInputs lays a minimal working directory out: an image list and a
// cube with a spatially variable linear motion on top of a constant
// scene offset.
func writeInputs(t *testing.T, dir string, n, lines, cols int, rate func(i, j int) float64) {
	t.Helper()

	var list string
	for k := 0; k < n; k++ {
		list += fmt.Sprintf("%d 201001%02d 0 %.6f 0 %.1f\n", k, k+1, 2010.0+float64(k)/12, float64(10*k))
	}
	if err := os.WriteFile(filepath.Join(dir, "images_retenues"), []byte("# image list\n"+list), 0o644); err != nil {
		t.Fatal(err)
	}

	maps := make([]*models.Raster, n)
	for k := range maps {
		maps[k] = models.NewRaster(lines, cols)
		dt := float64(k) / 12
		for i := 0; i < lines; i++ {
			for j := 0; j < cols; j++ {
				maps[k].Set(i, j, 5.0+rate(i, j)*dt)
			}
		}
	}
	if err := stackio.WriteCube(filepath.Join(dir, "depl_cumule"), maps); err != nil {
		t.Fatal(err)
	}
}

// TestPipelineEndToEnd runs the whole estimation on files on disk and
// checks the velocity map and the product files.
func TestPipelineEndToEnd(t *testing.T) {
	const n, lines, cols = 8, 12, 12
	dir := t.TempDir()
	rate := func(i, j int) float64 { return 0.5 + 0.01*float64(i+j) }
	writeInputs(t, dir, n, lines, cols, rate)

	cfg := config.DefaultConfig()
	cfg.Input.Cube = filepath.Join(dir, "depl_cumule")
	cfg.Input.EpochList = filepath.Join(dir, "images_retenues")
	cfg.Input.Lines = lines
	cfg.Input.Cols = cols
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Processing.Workers = 2

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Stack().N() != n {
		t.Fatalf("Expected %d epochs, got %d", n, p.Stack().N())
	}

	res, err := p.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lib := p.Library()
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			got := res.Coeff[lib.Linear].At(i, j)
			if math.Abs(got-rate(i, j)) > 1e-3 {
				t.Fatalf("Pixel %d,%d: expected rate %f, got %f", i, j, rate(i, j), got)
			}
		}
	}

	for _, name := range []string{
		"ref_coeff.r4", "lin_coeff.r4", "lin_sigcoeff.r4",
		"depl_cumule_flat", "aps_0.txt", "bp_t.in", "lect_ts.in",
	} {
		if _, err := os.Stat(filepath.Join(cfg.Output.Dir, name)); err != nil {
			t.Errorf("Expected product %s: %v", name, err)
		}
	}

	vel, err := stackio.ReadRaster(filepath.Join(cfg.Output.Dir, "lin_coeff.r4"), lines, cols, 1)
	if err != nil {
		t.Fatalf("ReadRaster failed: %v", err)
	}
	if math.Abs(vel.At(3, 4)-rate(3, 4)) > 1e-3 {
		t.Errorf("Expected written velocity %f, got %f", rate(3, 4), vel.At(3, 4))
	}
}

// TestPipelineBasisAnchor verifies the time functions stay anchored on
// the first kept date even when the reference image is later in the
// series.
func TestPipelineBasisAnchor(t *testing.T) {
	const n, lines, cols = 8, 6, 6
	dir := t.TempDir()
	writeInputs(t, dir, n, lines, cols, func(i, j int) float64 { return 1 })

	cfg := config.DefaultConfig()
	cfg.Input.Cube = filepath.Join(dir, "depl_cumule")
	cfg.Input.EpochList = filepath.Join(dir, "images_retenues")
	cfg.Input.Lines = lines
	cfg.Input.Cols = cols
	cfg.Input.RefEpoch = 3
	cfg.Output.Dir = filepath.Join(dir, "out")

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	lib := p.Library()
	lin, ok := lib.Basis[lib.Linear].(timefunc.Interseismic)
	if !ok {
		t.Fatalf("Expected an interseismic basis at column %d", lib.Linear)
	}
	if math.Abs(lin.T0-2010.0) > 1e-9 {
		t.Errorf("Expected anchor on the first date 2010.0, got %f", lin.T0)
	}
	// the chosen reference image reads zero after re-referencing
	if s := p.Stack().Maps[2].NaNSum(); s != 0 {
		t.Errorf("Expected an all-zero reference image, got sum %f", s)
	}
}

// TestPipelineDateBounds verifies the epoch subsetting keeps the cube
// and list consistent.
func TestPipelineDateBounds(t *testing.T) {
	const n, lines, cols = 8, 10, 10
	dir := t.TempDir()
	rate := func(i, j int) float64 { return 1 + 0.1*float64(i) }
	writeInputs(t, dir, n, lines, cols, rate)

	cfg := config.DefaultConfig()
	cfg.Input.Cube = filepath.Join(dir, "depl_cumule")
	cfg.Input.EpochList = filepath.Join(dir, "images_retenues")
	cfg.Input.Lines = lines
	cfg.Input.Cols = cols
	cfg.Input.DateMin = 2009.0
	cfg.Input.DateMax = 2010.0 + 4.5/12
	cfg.Output.Dir = filepath.Join(dir, "out")

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := p.Stack().N(); got != 5 {
		t.Fatalf("Expected 5 epochs inside the bounds, got %d", got)
	}
	if p.Stack().Epochs[4].Date != 20100105 {
		t.Errorf("Expected last kept date 20100105, got %d", p.Stack().Epochs[4].Date)
	}
}
