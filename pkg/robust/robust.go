// Package robust provides the NaN-aware order statistics and the
// elevation binning that condition samples before the ramp and
// phase/elevation fits.
package robust

import (
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// Percentile returns the p-th percentile (0-100) of the finite values in
// data, NaN when no finite value exists. The input is not modified.
func Percentile(data []float64, p float64) float64 {
	clean := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	slices.Sort(clean)
	return stat.Quantile(p/100, stat.Empirical, clean, nil)
}

// FloorAtPercentile raises every value below the p-th percentile to that
// percentile, in place. Used to keep near-zero uncertainty weights from
// dominating the next fit.
func FloorAtPercentile(data []float64, p float64) {
	floor := Percentile(data, p)
	if math.IsNaN(floor) {
		return
	}
	for i, v := range data {
		if v < floor {
			data[i] = floor
		}
	}
}

// Bin is one elevation bin of the robust sample set: median coordinates
// and displacement of the retained samples plus their dispersion.
type Bin struct {
	Elev float64
	LOS  float64
	Az   float64
	Rg   float64
	Std  float64
}

// BinByElevation digitizes the screened samples into nbins equal elevation
// intervals over [minElev, maxElev], drops bins with minCount samples or
// fewer, trims the 2nd/98th percentile tails inside each bin, and records
// per-bin medians and dispersion. The result is a decorrelated sample set
// independent of spatial sample density.
func BinByElevation(elev, los, az, rg []float64, minElev, maxElev float64, nbins, minCount int) []Bin {
	if nbins < 1 || maxElev <= minElev {
		return nil
	}
	width := (maxElev - minElev) / float64(nbins)

	members := make([][]int, nbins)
	for i, e := range elev {
		k := int((e - minElev) / width)
		if k < 0 || k >= nbins {
			continue
		}
		members[k] = append(members[k], i)
	}

	var bins []Bin
	for k, idx := range members {
		if len(idx) <= minCount {
			continue
		}
		vals := make([]float64, len(idx))
		for i, j := range idx {
			vals[i] = los[j]
		}
		lo := Percentile(vals, 2)
		hi := Percentile(vals, 98)

		var inLOS, inAz, inRg []float64
		for _, j := range idx {
			if los[j] > lo && los[j] < hi {
				inLOS = append(inLOS, los[j])
				inAz = append(inAz, az[j])
				inRg = append(inRg, rg[j])
			}
		}
		if len(inLOS) == 0 {
			continue
		}
		bins = append(bins, Bin{
			Elev: minElev + (float64(k)+0.5)*width,
			LOS:  median(inLOS),
			Az:   median(inAz),
			Rg:   median(inRg),
			Std:  stat.StdDev(inLOS, nil),
		})
	}
	return bins
}

func median(v []float64) float64 {
	c := append([]float64(nil), v...)
	slices.Sort(c)
	n := len(c)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 0 {
		return (c[n/2-1] + c[n/2]) / 2
	}
	return c[n/2]
}

// Median returns the median of the finite values of v.
func Median(v []float64) float64 {
	clean := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			clean = append(clean, x)
		}
	}
	return median(clean)
}
