package anysde

import "github.com/unixpickle/anydiff"

// A Cost measures the error between a batch of desired
// outputs and a batch of actual outputs.
//
// Just like regular Layers, a Cost function is batched.
// It takes a packed batch of desired outputs and actual
// outputs, and produces a batch of costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// SquaredError evaluates cost as the squared Euclidean
// distance between the actual and desired output.
//
// Unlike a mean squared error, the squares are summed
// over every component of a sample, so the cost grows
// with the sample size.
type SquaredError struct{}

// Cost computes, for each sample, the sum of squared
// differences between the actual and desired output.
func (s SquaredError) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	if actual.Output().Len() != desired.Output().Len() {
		panic("desired and actual sizes must match")
	}
	if n == 0 || actual.Output().Len()%n != 0 {
		panic("batch size must divide output size")
	}
	neg := anydiff.Scale(desired, desired.Output().Creator().MakeNumeric(-1))
	sq := anydiff.Square(anydiff.Add(actual, neg))
	return anydiff.SumCols(&anydiff.Matrix{
		Data: sq,
		Rows: n,
		Cols: sq.Output().Len() / n,
	})
}
