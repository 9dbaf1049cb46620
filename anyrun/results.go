package anyrun

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/unixpickle/anysde/anyscore"
	"gonum.org/v1/gonum/floats"
)

var (
	coldColor = colorful.Color{R: 0, G: 0, B: 0.5}
	hotColor  = colorful.Color{R: 1, G: 0.9, B: 0}
)

// writeResults writes one CSV row per test image and,
// if enabled, a PNG rendering of every heatmap.
// It returns the path of the CSV file.
func writeResults(cfg *Config, category string, eval *anyscore.Evaluation) (string, error) {
	dir := filepath.Join(cfg.SaveRoot, resultsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, category+"_heatmaps.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"index", "anomalous", "score", "energy_sum"})
	for i, heatmap := range eval.Heatmaps {
		w.Write([]string{
			strconv.Itoa(i),
			strconv.FormatBool(eval.Labels[i]),
			strconv.FormatFloat(eval.Scores[i], 'g', -1, 64),
			strconv.FormatFloat(floats.Sum(heatmap), 'g', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	if cfg.SaveHeatmaps && len(eval.Heatmaps) > 0 {
		imageDir := filepath.Join(dir, category+"_heatmaps")
		if err := os.MkdirAll(imageDir, 0755); err != nil {
			return "", err
		}
		maxValue := floats.Max(eval.Scores)
		for i, heatmap := range eval.Heatmaps {
			name := filepath.Join(imageDir, fmt.Sprintf("%04d.png", i))
			img := HeatmapImage(heatmap, cfg.HeatmapSize, maxValue)
			if err := writePNG(name, img); err != nil {
				return "", err
			}
		}
	}
	return path, nil
}

// HeatmapImage renders a square heatmap, mapping 0 to a
// cold color and maxValue (or above) to a hot color.
func HeatmapImage(heatmap []float64, size int, maxValue float64) image.Image {
	if len(heatmap) != size*size {
		panic("heatmap size mismatch")
	}
	res := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			frac := 0.0
			if maxValue > 0 {
				frac = math.Max(0, math.Min(1, heatmap[y*size+x]/maxValue))
			}
			res.Set(x, y, coldColor.BlendLab(hotColor, frac).Clamped())
		}
	}
	return res
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
