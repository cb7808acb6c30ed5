// Package stackio reads and writes the flat binary rasters, cubes and
// text tables of a displacement time-series working directory.
package stackio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"insardecomp/internal/models"
)

// Date2Dec converts a yyyymmdd date to a decimal year.
func Date2Dec(date int) (float64, error) {
	t, err := time.Parse("20060102", strconv.Itoa(date))
	if err != nil {
		return 0, fmt.Errorf("parse date %d: %w", date, err)
	}
	return float64(t.Year()) + float64(t.YearDay())/365.1, nil
}

// ReadEpochList parses an image list file. Lines starting with '#' are
// comments; the columns of interest are the acquisition date (column 1,
// yyyymmdd), the decimal date (column 3) and the perpendicular baseline
// (column 5).
func ReadEpochList(path string) ([]models.Epoch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var epochs []models.Epoch
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 6 {
			return nil, fmt.Errorf("%s:%d: expected at least 6 columns, got %d", path, line, len(fields))
		}
		date, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: date: %w", path, line, err)
		}
		dec, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: decimal date: %w", path, line, err)
		}
		base, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: baseline: %w", path, line, err)
		}
		epochs = append(epochs, models.Epoch{
			Index:       len(epochs),
			Date:        date,
			DecimalDate: dec,
			Baseline:    base,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(epochs) == 0 {
		return nil, fmt.Errorf("%s: no epochs", path)
	}
	return epochs, nil
}

// FilterEpochs keeps the epochs strictly inside (dmin, dmax) decimal
// years, renumbering their indices.
func FilterEpochs(epochs []models.Epoch, dmin, dmax float64) []models.Epoch {
	var out []models.Epoch
	for _, e := range epochs {
		if e.DecimalDate > dmin && e.DecimalDate < dmax {
			e.Index = len(out)
			out = append(out, e)
		}
	}
	return out
}

// ReadColumn reads a whitespace-separated single-column float file,
// skipping '#' comments. Used for APS weight seeds and user vectors.
func ReadColumn(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vals []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, field := range strings.Fields(text) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			vals = append(vals, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vals, nil
}

// WriteColumn writes one float per line.
func WriteColumn(path string, vals []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, v := range vals {
		fmt.Fprintf(w, "%.6f\n", v)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
