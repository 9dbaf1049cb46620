// Package anyscore turns a trained score estimator into
// per-pixel anomaly heatmaps and per-image anomaly scores.
package anyscore

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Default scoring parameters.
const (
	DefaultTime       = 1e-3
	DefaultIterations = 3
)

var (
	ErrInvalidTime       = errors.New("scoring time must be in (0, 1]")
	ErrInvalidIterations = errors.New("scoring iteration count must be positive")
)

// A Scorer computes denoising energies for images.
//
// Each image is perturbed at a small fixed Time, and the
// estimator's score is turned back into an estimate of
// the injected noise:
//
//     adjusted = score*std^2 + noise
//
// The per-pixel energy is the channel mean of adjusted^2,
// averaged over Iterations independent noise draws.
// It is near zero where the estimator explains the
// corruption and large where it does not.
type Scorer struct {
	Schedule  *anysde.VESchedule
	Estimator anysde.ScoreEstimator

	Time       float64
	Iterations int

	// Rand is the noise source.
	// If nil, the global math/rand source is used.
	Rand *rand.Rand
}

// NewScorer creates a Scorer with the default time and
// iteration count.
func NewScorer(sched *anysde.VESchedule, est anysde.ScoreEstimator) *Scorer {
	return &Scorer{
		Schedule:   sched,
		Estimator:  est,
		Time:       DefaultTime,
		Iterations: DefaultIterations,
	}
}

// Validate checks the scoring parameters.
func (s *Scorer) Validate() error {
	if math.IsNaN(s.Time) || s.Time <= 0 || s.Time > 1 {
		return ErrInvalidTime
	}
	if s.Iterations <= 0 {
		return ErrInvalidIterations
	}
	return s.Schedule.Validate()
}

// Energy computes the averaged denoising energy for a
// packed batch of n images with the given depth.
//
// The result is a packed batch of single-channel energy
// maps.
// No gradients are tracked.
func (s *Scorer) Energy(images anyvec.Vector, n, depth int) (anyvec.Vector, error) {
	if err := s.Validate(); err != nil {
		return nil, essentials.AddCtx("compute energy", err)
	}
	if n <= 0 || depth <= 0 || images.Len()%(n*depth) != 0 {
		return nil, fmt.Errorf("compute energy: %d values cannot hold %d images of depth %d",
			images.Len(), n, depth)
	}
	c := images.Creator()
	std := s.Schedule.MarginalStd(s.Time)
	times := make([]float64, n)
	for i := range times {
		times[i] = s.Time
	}

	var total anyvec.Vector
	for i := 0; i < s.Iterations; i++ {
		noise := c.MakeVector(images.Len())
		anyvec.Rand(noise, anyvec.Normal, s.Rand)
		noise.Scale(c.MakeNumeric(std))

		perturbed := images.Copy()
		perturbed.Add(noise)
		score := s.Estimator.Score(anydiff.NewConst(perturbed), times, n).Output()

		adjusted := score.Copy()
		adjusted.Scale(c.MakeNumeric(std * std))
		adjusted.Add(noise)
		adjusted.Mul(adjusted.Copy())

		energy := anyvec.SumCols(adjusted, adjusted.Len()/depth)
		if total == nil {
			total = energy
		} else {
			total.Add(energy)
		}
	}
	total.Scale(c.MakeNumeric(1 / float64(depth*s.Iterations)))
	return total, nil
}

// An Evaluation holds the results of scoring a sample
// list, in sample order.
type Evaluation struct {
	// Heatmaps are the smoothed, resized energy maps.
	Heatmaps [][]float64

	// Scores are the per-image heatmap maxima.
	Scores []float64

	Labels []bool

	// Masks are ground-truth masks at heatmap resolution.
	// Entries are nil for samples without a mask.
	Masks [][]float64
}

// Evaluate scores every sample in order, in batches of at
// most batchSize.
//
// Masks must already be at the heatmap resolution.
func (s *Scorer) Evaluate(h *HeatmapMaker, f anysgd.Fetcher, samples anysde.SampleList,
	batchSize int) (*Evaluation, error) {
	if batchSize <= 0 {
		return nil, errors.New("evaluate: batch size must be positive")
	}
	res := &Evaluation{}
	for i := 0; i < samples.Len(); i += batchSize {
		end := i + batchSize
		if end > samples.Len() {
			end = samples.Len()
		}
		b, err := f.Fetch(samples.Slice(i, end))
		if err != nil {
			return nil, essentials.AddCtx("evaluate", err)
		}
		batch := b.(*anysde.Batch)
		depth := batch.Images.Output().Len() / (batch.Num * h.InputWidth * h.InputHeight)
		energy, err := s.Energy(batch.Images.Output(), batch.Num, depth)
		if err != nil {
			return nil, essentials.AddCtx("evaluate", err)
		}
		heatmaps := h.Heatmaps(energy, batch.Num)
		res.Scores = append(res.Scores, Scores(heatmaps, batch.Num)...)
		mapSize := h.OutputSize * h.OutputSize
		for j, sample := range batch.Samples {
			res.Heatmaps = append(res.Heatmaps,
				anysde.Floats(heatmaps.Slice(j*mapSize, (j+1)*mapSize)))
			res.Labels = append(res.Labels, sample.Anomalous)
			if sample.Mask == nil {
				res.Masks = append(res.Masks, nil)
				continue
			}
			if sample.Mask.Len() != mapSize {
				return nil, fmt.Errorf("evaluate: mask has %d values (expected %d)",
					sample.Mask.Len(), mapSize)
			}
			res.Masks = append(res.Masks, anysde.Floats(sample.Mask))
		}
	}
	return res, nil
}
