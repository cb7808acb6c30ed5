package stackio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"insardecomp/internal/models"
)

// auxSentinel marks unusable samples of the auxiliary rasters, which
// use a wider valid range than the displacement cube.
const auxSentinel = 9999.0

// ReadRaster reads a little-endian float32 raster of the given shape.
// scale multiplies every value; pass 1 for none.
func ReadRaster(path string, lines, cols int, scale float64) (*models.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]float32, lines*cols)
	if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r := models.NewRaster(lines, cols)
	for i, v := range buf {
		if v > auxSentinel || v < -auxSentinel {
			r.Data[i] = math.NaN()
			continue
		}
		r.Data[i] = float64(v) * scale
	}
	return r, nil
}

// WriteRaster writes a raster as little-endian float32.
func WriteRaster(path string, r *models.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	buf := make([]float32, len(r.Data))
	for i, v := range r.Data {
		buf[i] = float32(v)
	}
	if err := binary.Write(f, binary.LittleEndian, buf); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// invalidSentinel marks unusable cube samples in the on-disk format.
const invalidSentinel = 9990.0

// ReadCube reads a displacement cube of n epochs stored pixel-major
// (lines x cols x epochs), re-references every epoch to the reference
// map and hides invalid samples: sentinel values, and exact zeros
// outside the reference epoch.
func ReadCube(path string, lines, cols int, n, refIdx int) (*models.Stack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]float32, lines*cols*n)
	if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
		return nil, fmt.Errorf("read cube %s: %w", path, err)
	}

	maps := make([]*models.Raster, n)
	for k := range maps {
		maps[k] = models.NewRaster(lines, cols)
	}
	for p := 0; p < lines*cols; p++ {
		for k := 0; k < n; k++ {
			v := float64(buf[p*n+k])
			if v > invalidSentinel {
				v = math.NaN()
			}
			maps[k].Data[p] = v
		}
	}

	ref := maps[refIdx].Clone()
	for k, m := range maps {
		for p, v := range m.Data {
			m.Data[p] = v - ref.Data[p]
			if k != refIdx && m.Data[p] == 0 {
				m.Data[p] = math.NaN()
			}
		}
	}
	return &models.Stack{Epochs: nil, Maps: maps, Lines: lines, Cols: cols}, nil
}

// WriteCube writes the epoch maps pixel-major as little-endian float32.
func WriteCube(path string, maps []*models.Raster) error {
	if len(maps) == 0 {
		return fmt.Errorf("write cube %s: no maps", path)
	}
	lines, cols := maps[0].Lines, maps[0].Cols
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	buf := make([]float32, lines*cols*len(maps))
	for p := 0; p < lines*cols; p++ {
		for k, m := range maps {
			buf[p*len(maps)+k] = float32(m.Data[p])
		}
	}
	if err := binary.Write(f, binary.LittleEndian, buf); err != nil {
		f.Close()
		return fmt.Errorf("write cube %s: %w", path, err)
	}
	return f.Close()
}

// SubsetEpochs keeps only the listed epoch maps, in order.
func SubsetEpochs(s *models.Stack, keep []int) *models.Stack {
	maps := make([]*models.Raster, 0, len(keep))
	for _, k := range keep {
		maps = append(maps, s.Maps[k])
	}
	return &models.Stack{Maps: maps, Lines: s.Lines, Cols: s.Cols}
}

// Crop hides every pixel outside the window, keeping the raster shape.
func Crop(r *models.Raster, lineStart, lineEnd, colStart, colEnd int) {
	for i := 0; i < r.Lines; i++ {
		for j := 0; j < r.Cols; j++ {
			if i < lineStart || i >= lineEnd || j < colStart || j >= colEnd {
				r.Set(i, j, math.NaN())
			}
		}
	}
}

// Decimate subsamples a raster by the given line/column stride.
func Decimate(r *models.Raster, step int) *models.Raster {
	if step <= 1 {
		return r
	}
	lines := (r.Lines + step - 1) / step
	cols := (r.Cols + step - 1) / step
	out := models.NewRaster(lines, cols)
	for i := 0; i < lines; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, r.At(i*step, j*step))
		}
	}
	return out
}
