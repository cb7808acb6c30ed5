package stackio

import (
	"fmt"
	"os"
	"path/filepath"

	"insardecomp/internal/models"
	"insardecomp/pkg/decomp"
	"insardecomp/pkg/timefunc"
)

// Writer lays the estimation products out in a working directory.
type Writer struct {
	Dir  string
	Full bool
}

// WriteAll writes every standard product of a finished run: the
// parameter and uncertainty map of each library column, the seasonal
// amplitude/phase maps, the corrected cubes, the per-iteration epoch
// weights, and the per-date maps when Full is set.
func (w *Writer) WriteAll(stack *models.Stack, lib *timefunc.Library, res *decomp.Result) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	tags := lib.Reductions()
	for c, tag := range tags {
		if err := WriteRaster(w.path(tag+"_coeff.r4"), res.Coeff[c]); err != nil {
			return err
		}
		if err := WriteRaster(w.path(tag+"_sigcoeff.r4"), res.Sigma[c]); err != nil {
			return err
		}
	}

	if lib.Seasonal >= 0 {
		if err := w.writeAmpPhase("wt", res, lib.Seasonal); err != nil {
			return err
		}
	}
	if lib.Semiannual >= 0 {
		if err := w.writeAmpPhase("w2t", res, lib.Semiannual); err != nil {
			return err
		}
	}

	if err := WriteCube(w.path("depl_cumule_flat"), res.Flat); err != nil {
		return err
	}
	for _, cube := range []struct {
		name   string
		series []*models.Raster
	}{
		{"depl_cumule_dtrend", res.Trend},
		{"depl_cumule_dseas", res.Seasonal},
		{"depl_cumule_dvect", res.Vector},
	} {
		if cube.series == nil {
			continue
		}
		if err := WriteCube(w.path(cube.name), subtract(res.Flat, cube.series)); err != nil {
			return err
		}
	}
	if res.NoRamp != nil {
		if err := WriteCube(w.path("depl_cumule_noramps"), res.NoRamp); err != nil {
			return err
		}
	}

	for it, aps := range res.APS {
		if err := WriteColumn(w.path(fmt.Sprintf("aps_%d.txt", it)), aps); err != nil {
			return err
		}
	}

	if err := w.writeGeometry(stack); err != nil {
		return err
	}

	if w.Full {
		return w.writeDateMaps(stack, res)
	}
	return nil
}

func (w *Writer) writeAmpPhase(suffix string, res *decomp.Result, col int) error {
	amp, phi, sigAmp, sigPhi := decomp.SeasonalAmpPhase(
		res.Coeff[col], res.Coeff[col+1], res.Sigma[col], res.Sigma[col+1])
	for _, out := range []struct {
		name string
		m    *models.Raster
	}{
		{"amp" + suffix + "_coeff.r4", amp},
		{"amp" + suffix + "_sigcoeff.r4", sigAmp},
		{"phi" + suffix + "_coeff.r4", phi},
		{"phi" + suffix + "_sigcoeff.r4", sigPhi},
	} {
		if err := WriteRaster(w.path(out.name), out.m); err != nil {
			return err
		}
	}
	return nil
}

// writeGeometry writes the small text files downstream tools read: the
// date/baseline table and the map dimensions.
func (w *Writer) writeGeometry(stack *models.Stack) error {
	f, err := os.Create(w.path("bp_t.in"))
	if err != nil {
		return err
	}
	for _, e := range stack.Epochs {
		fmt.Fprintf(f, "%.6f %.6f\n", e.DecimalDate, e.Baseline)
	}
	if err := f.Close(); err != nil {
		return err
	}

	f, err = os.Create(w.path("lect_ts.in"))
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "%6d\t%6d\t\n", stack.Cols, stack.Lines)
	return f.Close()
}

// writeDateMaps writes the flattened, ramp, model and residual map of
// every date into a MAPS subdirectory.
func (w *Writer) writeDateMaps(stack *models.Stack, res *decomp.Result) error {
	dir := filepath.Join(w.Dir, "MAPS")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for k, e := range stack.Epochs {
		prefix := filepath.Join(dir, fmt.Sprintf("%d", e.Date))
		if err := WriteRaster(prefix+"_flat.r4", res.Flat[k]); err != nil {
			return err
		}
		if res.Ramp != nil {
			rampTropo := res.Ramp[k].Clone()
			for i, v := range res.Topo[k].Data {
				rampTropo.Data[i] += v
			}
			if err := WriteRaster(prefix+"_ramp_tropo.r4", rampTropo); err != nil {
				return err
			}
		}
		if err := WriteRaster(prefix+"_model.r4", res.Model[k]); err != nil {
			return err
		}
		residual := res.Flat[k].Clone()
		for i, v := range res.Model[k].Data {
			residual.Data[i] -= v
		}
		if err := WriteRaster(prefix+"_res.r4", residual); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.Dir, name)
}

func subtract(a, b []*models.Raster) []*models.Raster {
	out := make([]*models.Raster, len(a))
	for k := range a {
		out[k] = a[k].Clone()
		for i, v := range b[k].Data {
			out[k].Data[i] -= v
		}
	}
	return out
}
