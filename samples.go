package anysde

import (
	"github.com/unixpickle/anysde/anysgd"
	"github.com/unixpickle/anyvec"
)

// A Sample is a single image from a category.
//
// Training samples only need an Image.
// Test samples also carry a ground-truth label and,
// optionally, a per-pixel defect mask.
type Sample struct {
	// Image is a row-major depth-minor tensor.
	Image anyvec.Vector

	// Anomalous is true for defective samples.
	Anomalous bool

	// Mask marks defective pixels with 1 and normal
	// pixels with 0.
	// It may be nil for samples without a mask.
	Mask anyvec.Vector
}

// A SampleList is an anysgd.SampleList that produces
// image samples.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
}

// A SliceSampleList is a concrete SampleList with
// predetermined samples.
type SliceSampleList []*Sample

// Len returns the number of samples.
func (s SliceSampleList) Len() int {
	return len(s)
}

// Swap swaps two samples.
func (s SliceSampleList) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Slice copies a sub-slice of the list.
func (s SliceSampleList) Slice(i, j int) anysgd.SampleList {
	return append(SliceSampleList{}, s[i:j]...)
}

// GetSample returns the sample at the index.
func (s SliceSampleList) GetSample(idx int) (*Sample, error) {
	return s[idx], nil
}
