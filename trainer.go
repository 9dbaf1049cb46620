package anysde

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anysde/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// ErrNonFiniteLoss is returned when a training batch
// produces a NaN or infinite loss.
var ErrNonFiniteLoss = errors.New("loss is not finite")

// A Batch stores a packed batch of images along with the
// samples they came from.
type Batch struct {
	Images  *anydiff.Const
	Samples []*Sample
	Num     int
}

// DenoisingLoss computes the denoising score-matching
// loss for a packed batch of n clean images.
//
// Every image gets its own time t ~ U(eps, 1) and noise
// z ~ N(0, I).
// With s = MarginalStd(t), the estimator is queried at
// x + s*z and the loss is the batch mean of
//
//     ||score*s + z||^2
//
// If r is nil, the global math/rand source is used.
func DenoisingLoss(est ScoreEstimator, sched *VESchedule, images anyvec.Vector, n int,
	eps float64, r *rand.Rand) anydiff.Res {
	if n == 0 || images.Len()%n != 0 {
		panic("batch size must divide image data")
	}
	c := images.Creator()
	size := images.Len() / n

	times := make([]float64, n)
	for i := range times {
		times[i] = eps + (1-eps)*uniform(r)
	}
	stds := RepeatChunks(c, sched.MarginalStds(times), size)

	z := c.MakeVector(images.Len())
	anyvec.Rand(z, anyvec.Normal, r)

	perturbed := z.Copy()
	perturbed.Mul(stds)
	perturbed.Add(images)

	score := est.Score(anydiff.NewConst(perturbed), times, n)
	negZ := z.Copy()
	negZ.Scale(c.MakeNumeric(-1))
	perSample := SquaredError{}.Cost(anydiff.NewConst(negZ), anydiff.Mul(score, anydiff.NewConst(stds)), n)
	return anydiff.Scale(anydiff.Sum(perSample), c.MakeNumeric(1/float64(n)))
}

// A Trainer fetches image batches and computes gradients
// of the denoising score-matching loss.
//
// It implements anysgd.Fetcher, anysgd.Coster, and
// anysgd.Gradienter.
type Trainer struct {
	Schedule  *VESchedule
	Estimator ScoreEstimator
	Params    []*anydiff.Var

	// TimeEpsilon is the lower bound on sampled times.
	// If it is 0, MinTime is used.
	TimeEpsilon float64

	// Rand is the source for times and noise.
	// If nil, the global math/rand source is used.
	Rand *rand.Rand

	// MaxGos specifies the maximum goroutines to use
	// simultaneously for fetching samples.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int

	// After every gradient computation, LastCost is set to
	// the loss of the batch.
	LastCost float64
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement SampleList.
// The batch may not be empty.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}

	l := s.(SampleList)
	samples := make([]*Sample, l.Len())

	idxChan := make(chan int, l.Len())
	for i := 0; i < l.Len(); i++ {
		idxChan <- i
	}
	close(idxChan)

	maxGos := t.MaxGos
	if maxGos == 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}

	wg := sync.WaitGroup{}
	errChan := make(chan error, maxGos)
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				sample, err := l.GetSample(i)
				if err != nil {
					errChan <- essentials.AddCtx("fetch batch", err)
					return
				}
				samples[i] = sample
			}
		}()
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	images := make([]anyvec.Vector, len(samples))
	for i, sample := range samples {
		images[i] = sample.Image
		if sample.Image.Len() != samples[0].Image.Len() {
			return nil, fmt.Errorf("fetch batch: image %d has size %d (expected %d)",
				i, sample.Image.Len(), samples[0].Image.Len())
		}
	}

	return &Batch{
		Images:  anydiff.NewConst(images[0].Creator().Concat(images...)),
		Samples: samples,
		Num:     len(samples),
	}, nil
}

// TotalCost computes the denoising score-matching loss
// for the *Batch.
func (t *Trainer) TotalCost(batch anysgd.Batch) anydiff.Res {
	b := batch.(*Batch)
	eps := t.TimeEpsilon
	if eps == 0 {
		eps = MinTime
	}
	return DenoisingLoss(t.Estimator, t.Schedule, b.Images.Output(), b.Num, eps, t.Rand)
}

// Gradient computes the gradient of the batch loss.
// It also sets t.LastCost to the loss.
//
// The b argument must be a *Batch.
// If the loss is not finite, ErrNonFiniteLoss is
// returned and the gradient should not be applied.
func (t *Trainer) Gradient(b anysgd.Batch) (anydiff.Grad, error) {
	grad, cost := anysgd.CosterGrad(t, b, t.Params)
	t.LastCost = cost
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, ErrNonFiniteLoss
	}
	return grad, nil
}

func uniform(r *rand.Rand) float64 {
	if r == nil {
		return rand.Float64()
	}
	return r.Float64()
}
