// Package anyroc computes ROC-based detection metrics
// from finished anomaly scores and heatmaps.
package anyroc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrOneClass is returned when the labels do not contain
// both positives and negatives.
var ErrOneClass = errors.New("AUROC needs both positive and negative labels")

// AUROC computes the area under the ROC curve for scores,
// where higher scores should indicate positive labels.
//
// The arguments are not modified.
func AUROC(scores []float64, labels []bool) (float64, error) {
	if len(scores) != len(labels) {
		return 0, fmt.Errorf("AUROC: %d scores but %d labels", len(scores), len(labels))
	}
	var numPos int
	for _, l := range labels {
		if l {
			numPos++
		}
	}
	if numPos == 0 || numPos == len(labels) {
		return 0, ErrOneClass
	}

	y := append([]float64{}, scores...)
	classes := append([]bool{}, labels...)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ImageAUROC computes the image-level AUROC from per-image
// anomaly scores and anomaly labels.
func ImageAUROC(scores []float64, anomalous []bool) (float64, error) {
	return AUROC(scores, anomalous)
}

// PixelAUROC computes the pixel-level AUROC, pooling the
// pixels of every heatmap with a ground-truth mask.
//
// Heatmaps whose mask is nil are skipped.
// A mask value above 0.5 marks a defective pixel.
func PixelAUROC(heatmaps, masks [][]float64) (float64, error) {
	if len(heatmaps) != len(masks) {
		return 0, fmt.Errorf("pixel AUROC: %d heatmaps but %d masks", len(heatmaps), len(masks))
	}
	var scores []float64
	var labels []bool
	for i, mask := range masks {
		if mask == nil {
			continue
		}
		if len(mask) != len(heatmaps[i]) {
			return 0, fmt.Errorf("pixel AUROC: heatmap %d has %d pixels but mask has %d",
				i, len(heatmaps[i]), len(mask))
		}
		scores = append(scores, heatmaps[i]...)
		for _, m := range mask {
			labels = append(labels, m > 0.5)
		}
	}
	if len(scores) == 0 {
		return 0, errors.New("pixel AUROC: no masks")
	}
	return AUROC(scores, labels)
}
