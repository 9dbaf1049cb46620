package anyscore

import (
	"sync"

	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anyconv"
	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/floats"
)

// Default heatmap post-processing parameters.
const (
	DefaultHeatmapSize = 256
	DefaultPoolSpan    = 31
)

// A HeatmapMaker resizes energy maps to a square
// resolution and smooths them with a mean filter.
//
// Energy maps are resized with half-pixel bilinear
// interpolation, zero padded by PoolSpan/2 on every side,
// and mean pooled with a stride of 1, so the output has
// the same size as the resized map.
// Padded zeros count towards the mean.
type HeatmapMaker struct {
	InputWidth  int
	InputHeight int

	OutputSize int

	// PoolSpan is the side length of the smoothing
	// window.
	// It must be odd.
	PoolSpan int

	netLock sync.Mutex
	net     anysde.Net
}

// NewHeatmapMaker creates a HeatmapMaker with the default
// output size and pooling span.
func NewHeatmapMaker(width, height int) *HeatmapMaker {
	return &HeatmapMaker{
		InputWidth:  width,
		InputHeight: height,
		OutputSize:  DefaultHeatmapSize,
		PoolSpan:    DefaultPoolSpan,
	}
}

// Heatmaps post-processes a packed batch of n energy maps.
func (h *HeatmapMaker) Heatmaps(energy anyvec.Vector, n int) anyvec.Vector {
	if h.PoolSpan <= 0 || h.PoolSpan%2 == 0 {
		panic("pooling span must be positive and odd")
	}
	h.netLock.Lock()
	if h.net == nil {
		h.net = h.makeNet()
	}
	h.netLock.Unlock()
	return h.net.Eval(energy, n)
}

func (h *HeatmapMaker) makeNet() anysde.Net {
	pad := h.PoolSpan / 2
	padded := h.OutputSize + 2*pad
	return anysde.Net{
		&anyconv.Resize{
			Depth:        1,
			InputWidth:   h.InputWidth,
			InputHeight:  h.InputHeight,
			OutputWidth:  h.OutputSize,
			OutputHeight: h.OutputSize,
			HalfPixel:    true,
		},
		anyconv.NewBorder(h.OutputSize, h.OutputSize, 1, pad),
		&anyconv.MeanPool{
			SpanX:       h.PoolSpan,
			SpanY:       h.PoolSpan,
			StrideX:     1,
			StrideY:     1,
			InputWidth:  padded,
			InputHeight: padded,
			InputDepth:  1,
		},
	}
}

// Scores computes the maximum of every heatmap in a
// packed batch.
func Scores(heatmaps anyvec.Vector, n int) []float64 {
	values := anysde.Floats(heatmaps)
	size := len(values) / n
	res := make([]float64, n)
	for i := range res {
		res[i] = floats.Max(values[i*size : (i+1)*size])
	}
	return res
}
