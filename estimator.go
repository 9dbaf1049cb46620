package anysde

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A ScoreEstimator approximates the score (the gradient
// of the log-density) of data perturbed by a VESchedule.
//
// Implementations are free to use any architecture.
// The diffusion code only relies on Score and on the
// parameter list for optimization and averaging.
type ScoreEstimator interface {
	Parameterizer

	// Score estimates the score for a batch of perturbed
	// samples.
	// The times slice has one entry per batch element.
	// The output has the same shape as the input.
	Score(in anydiff.Res, times []float64, batchSize int) anydiff.Res
}

// RepeatChunks creates a vector of len(values)*chunkSize
// components where the i-th chunk is filled with
// values[i].
//
// It is used to broadcast per-sample scalars, such as
// marginal standard deviations, over packed batches.
func RepeatChunks(c anyvec.Creator, values []float64, chunkSize int) anyvec.Vector {
	res := c.MakeVector(len(values) * chunkSize)
	res.AddScalar(c.MakeNumeric(1))
	anyvec.ScaleChunks(res, c.MakeVectorData(c.MakeNumericList(values)))
	return res
}

// Floats converts a vector to a []float64.
//
// The anyvec.NumericList type must be []float32 or
// []float64.
func Floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic("unsupported numeric type")
	}
}
