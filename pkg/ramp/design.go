// Package ramp estimates, for each epoch, the low-order spatial polynomial
// and the optional phase/elevation term that contaminate the displacement
// map, and returns the flattened map with per-epoch residual RMS.
package ramp

// A column is one monomial of the spatial model, evaluated from the
// azimuth (line) and range (column) offsets and the pixel elevation.
type column func(az, rg, z float64) float64

// rampColumns returns the ramp block for a polynomial order 0-9. The ten
// historical ramp forms differ only in which monomials they include, so
// they collapse into one table.
func rampColumns(order int) []column {
	c := func(f func(az, rg float64) float64) column {
		return func(az, rg, _ float64) float64 { return f(az, rg) }
	}
	one := c(func(_, _ float64) float64 { return 1 })
	rg := c(func(_, rg float64) float64 { return rg })
	az := c(func(az, _ float64) float64 { return az })

	switch order {
	case 0:
		return []column{one}
	case 1: // a*rg + b
		return []column{rg, one}
	case 2: // a*az + b
		return []column{az, one}
	case 3: // a*rg + b*az + c
		return []column{rg, az, one}
	case 4: // a*rg + b*az + c*rg*az + d
		return []column{rg, az, c(func(az, rg float64) float64 { return rg * az }), one}
	case 5: // a*rg^2 + b*rg + c*az + d
		return []column{c(func(_, rg float64) float64 { return rg * rg }), rg, az, one}
	case 6: // a*az^2 + b*az + c*rg + d
		return []column{c(func(az, _ float64) float64 { return az * az }), az, rg, one}
	case 7: // a*az^2 + b*az + c*rg^2 + d*rg + e
		return []column{
			c(func(az, _ float64) float64 { return az * az }), az,
			c(func(_, rg float64) float64 { return rg * rg }), rg, one,
		}
	case 8: // a*az^3 + b*az^2 + c*az + d*rg^2 + e*rg + f
		return []column{
			c(func(az, _ float64) float64 { return az * az * az }),
			c(func(az, _ float64) float64 { return az * az }), az,
			c(func(_, rg float64) float64 { return rg * rg }), rg, one,
		}
	case 9: // a*rg + b*az + c*(rg*az)^2 + d*rg*az + e
		return []column{
			rg, az,
			c(func(az, rg float64) float64 { return rg * az * rg * az }),
			c(func(az, rg float64) float64 { return rg * az }), one,
		}
	}
	return []column{one}
}

// elevColumns returns the elevation block for the coupling mode:
// ivar 0 couples elevation alone, ivar 1 crosses it with azimuth;
// nfit 1 adds a quadratic elevation term.
func elevColumns(ivar, nfit int) []column {
	z := func(_, _, z float64) float64 { return z }
	z2 := func(_, _, z float64) float64 { return z * z }
	zaz := func(az, _, z float64) float64 { return z * az }

	switch {
	case ivar == 0 && nfit == 0:
		return []column{z}
	case ivar == 0 && nfit == 1:
		return []column{z, z2}
	case ivar == 1 && nfit == 0:
		return []column{z, zaz}
	default: // ivar == 1, nfit == 1
		return []column{zaz, z, z2}
	}
}

// Design is the spatial model of one estimation: a ramp block selected by
// the polynomial order followed by an optional elevation block. NumRamp
// is the slicing boundary between the two blocks.
type Design struct {
	cols    []column
	numRamp int
}

// NewDesign builds the column set for the given order and elevation
// coupling. withElev disables the elevation block entirely when no
// elevation raster is available.
func NewDesign(order, ivar, nfit int, withElev bool) Design {
	rampCols := rampColumns(order)
	d := Design{cols: rampCols, numRamp: len(rampCols)}
	if withElev {
		d.cols = append(append([]column(nil), rampCols...), elevColumns(ivar, nfit)...)
	}
	return d
}

// NumCols returns the total number of model parameters.
func (d Design) NumCols() int { return len(d.cols) }

// NumRamp returns the number of ramp parameters, which is also the
// boundary between the ramp and elevation blocks.
func (d Design) NumRamp() int { return d.numRamp }

// Row evaluates every column at one sample.
func (d Design) Row(dst []float64, az, rg, z float64) {
	for i, c := range d.cols {
		dst[i] = c(az, rg, z)
	}
}

// Split evaluates the fitted model at one pixel and returns the ramp and
// elevation contributions separately.
func (d Design) Split(pars []float64, az, rg, z float64) (ramp, topo float64) {
	for i, c := range d.cols {
		v := c(az, rg, z) * pars[i]
		if i < d.numRamp {
			ramp += v
		} else {
			topo += v
		}
	}
	return ramp, topo
}
