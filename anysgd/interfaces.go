package anysgd

import "github.com/unixpickle/anydiff"

// A SampleList is a shuffleable list of training samples.
// Samples are usually loaded lazily by a Fetcher.
type SampleList interface {
	Len() int
	Swap(i, j int)

	// Slice returns a shallow copy of the samples in
	// [i, j).
	Slice(i, j int) SampleList
}

// A Batch is a loaded set of samples, as produced by a
// Fetcher and consumed by a Gradienter.
type Batch interface{}

// A Fetcher loads the samples of a SampleList.
//
// SGD fetches the next batch on a separate goroutine while
// the current one is used.
type Fetcher interface {
	Fetch(s SampleList) (Batch, error)
}

// A Coster computes a differentiable cost for a Batch.
// Every component of the output counts towards the cost.
type Coster interface {
	TotalCost(b Batch) anydiff.Res
}

// A Gradienter computes the cost gradient for a Batch.
//
// An error means the step must be abandoned, for example
// because the cost was not finite.
// The returned gradient may be reused by the next call.
type Gradienter interface {
	Gradient(b Batch) (anydiff.Grad, error)
}

// A Transformer rewrites gradients before they are
// applied, for example to implement adaptive optimizers.
//
// It may modify and return its argument.
// Its output is only valid until the next call.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Rater determines the learning rate for a (possibly
// fractional) epoch number.
type Rater interface {
	Rate(epoch float64) float64
}
