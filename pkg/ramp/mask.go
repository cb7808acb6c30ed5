package ramp

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"insardecomp/internal/models"
	"insardecomp/pkg/solver"
)

// maskNoData marks holes in mask rasters.
const maskNoData = 9999

// CleanMask hides the no-data values of a coherence/mask raster.
func CleanMask(mask *models.Raster) {
	for i, v := range mask.Data {
		if v == 0 || v == maskNoData {
			mask.Data[i] = math.NaN()
		}
	}
}

// FlattenMask removes a quadratic-in-range, linear-in-azimuth ramp from
// a mask raster before thresholding, then recenters it on its mean. The
// ramp is fitted on the pixels of win whose value exceeds seuil.
func FlattenMask(mask *models.Raster, win Window, seuil, cond float64) *models.Raster {
	var az, rg, vals []float64
	for i := win.LineStart; i < win.LineEnd; i++ {
		for j := win.ColStart; j < win.ColEnd; j++ {
			v := mask.At(i, j)
			if math.IsNaN(v) || !(v > seuil) {
				continue
			}
			az = append(az, float64(i-win.LineStart))
			rg = append(rg, float64(j-win.ColStart))
			vals = append(vals, v)
		}
	}
	out := mask.Clone()
	CleanMask(out)
	if len(vals) < 4 {
		return out
	}

	g := mat.NewDense(len(vals), 4, nil)
	for r := range vals {
		g.Set(r, 0, rg[r]*rg[r])
		g.Set(r, 1, rg[r])
		g.Set(r, 2, az[r])
		g.Set(r, 3, 1)
	}
	pars := solver.InvSVD(g, vals, cond)

	var sum float64
	var n int
	for i := 0; i < out.Lines; i++ {
		for j := 0; j < out.Cols; j++ {
			x := float64(i - win.LineStart)
			y := float64(j - win.ColStart)
			v := out.At(i, j) - (pars[0]*y*y + pars[1]*y + pars[2]*x + pars[3])
			out.Set(i, j, v)
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
	}
	if n > 0 {
		mean := sum / float64(n)
		for i := range out.Data {
			out.Data[i] -= mean
		}
	}
	return out
}

// ApplyTempMask hides, at every epoch, the pixels of win whose
// flattened mask value is below seuil, so the temporal inversion skips
// them too.
func ApplyTempMask(maps []*models.Raster, mask *models.Raster, win Window, seuil float64) {
	for i := win.LineStart; i < win.LineEnd; i++ {
		for j := win.ColStart; j < win.ColEnd; j++ {
			if mask.At(i, j) < seuil {
				for _, m := range maps {
					m.Set(i, j, math.NaN())
				}
			}
		}
	}
}
