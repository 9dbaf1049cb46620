// Package anysgd provides tools for Stochastic Gradient
// Descent.
//
// Training is organized into epochs, each of which is one
// shuffled pass over a sample list.
// An exponential moving average of the parameters can be
// maintained alongside the optimizer.
package anysgd

import (
	"errors"
	"math/rand"

	"github.com/unixpickle/anydiff"
)

// SGD performs stochastic gradient descent.
type SGD struct {
	// Fetcher is used to load the samples of each
	// mini-batch.
	// Batches are fetched one step ahead of the optimizer.
	Fetcher Fetcher

	// Gradienter is used to compute initial, untransformed
	// gradients for each mini-batch.
	Gradienter Gradienter

	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	Transformer Transformer

	// Samples is the list of training samples to use for
	// training.
	// It is re-shuffled at the start of every epoch.
	//
	// The list may not be empty.
	Samples SampleList

	// Rater determines the learning rate for each step.
	Rater Rater

	// StatusFunc, if non-nil, is called before every
	// gradient computation with the next mini-batch.
	StatusFunc func(batch Batch)

	// AfterStep, if non-nil, is called after every
	// parameter update, before the next gradient is
	// computed.
	// The size argument is the number of samples in the
	// batch.
	AfterStep func(batch Batch, size int)

	// BatchSize is the mini-batch size.
	// If it is 0, then the entire sample list is used at
	// every iteration.
	// The last mini-batch of an epoch may be smaller.
	BatchSize int

	// NumProcessed keeps track of the number of samples that
	// have been passed to Gradienter so far.
	// It is used to compute the epoch for Rater.
	// Most of the time, this should be initialized to 0.
	NumProcessed int

	// Rand is used for shuffling.
	// If nil, the global math/rand source is used.
	Rand *rand.Rand
}

// Epoch performs one pass over the samples.
//
// The first error from the Fetcher or the Gradienter
// aborts the pass.
// Updates made before the error are kept.
func (s *SGD) Epoch() error {
	if s.Samples.Len() == 0 {
		return errors.New("run epoch: empty sample list")
	}
	shuffle(s.Samples, s.Rand)

	var lists []SampleList
	for idx := 0; idx < s.Samples.Len(); {
		size := s.batchSize(s.Samples.Len() - idx)
		lists = append(lists, s.Samples.Slice(idx, idx+size))
		idx += size
	}

	done := make(chan struct{})
	defer close(done)
	for res := range s.prefetch(lists, done) {
		if res.Err != nil {
			return res.Err
		}
		if err := s.step(res.Batch, res.Size); err != nil {
			return err
		}
	}
	return nil
}

// Epochs returns the (possibly fractional) number of
// epochs completed so far.
func (s *SGD) Epochs() float64 {
	return float64(s.NumProcessed) / float64(s.Samples.Len())
}

func (s *SGD) step(batch Batch, size int) error {
	if s.StatusFunc != nil {
		s.StatusFunc(batch)
	}

	grad, err := s.Gradienter.Gradient(batch)
	if err != nil {
		return err
	}
	if s.Transformer != nil {
		grad = s.Transformer.Transform(grad)
	}

	scaleGrad(grad, -s.Rater.Rate(s.Epochs()))
	grad.AddToVars()

	s.NumProcessed += size
	if s.AfterStep != nil {
		s.AfterStep(batch, size)
	}
	return nil
}

type fetchResult struct {
	Batch Batch
	Size  int
	Err   error
}

// prefetch fetches the batches in order on a separate
// Goroutine, staying at most one batch ahead.
func (s *SGD) prefetch(lists []SampleList, done <-chan struct{}) <-chan fetchResult {
	res := make(chan fetchResult, 1)
	go func() {
		defer close(res)
		for _, l := range lists {
			batch, err := s.Fetcher.Fetch(l)
			select {
			case res <- fetchResult{Batch: batch, Size: l.Len(), Err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return res
}

func (s *SGD) batchSize(remaining int) int {
	if s.BatchSize == 0 || s.BatchSize > remaining {
		return remaining
	} else {
		return s.BatchSize
	}
}

func scaleGrad(g anydiff.Grad, s float64) {
	for _, v := range g {
		g.Scale(v.Creator().MakeNumeric(s))
		return
	}
}
