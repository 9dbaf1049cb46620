package anyscore

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anyconv"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"gonum.org/v1/gonum/stat"
)

type zeroEstimator struct{}

func (z zeroEstimator) Score(in anydiff.Res, times []float64, n int) anydiff.Res {
	return anydiff.NewConst(in.Output().Creator().MakeVector(in.Output().Len()))
}

func (z zeroEstimator) Parameters() []*anydiff.Var {
	return nil
}

// noisyEstimator scales its input by a constant.
type noisyEstimator struct {
	Scale float64
}

func (n noisyEstimator) Score(in anydiff.Res, times []float64, batch int) anydiff.Res {
	return anydiff.Scale(in, in.Output().Creator().MakeNumeric(n.Scale))
}

func (n noisyEstimator) Parameters() []*anydiff.Var {
	return nil
}

func TestScorerValidate(t *testing.T) {
	sched := &anysde.VESchedule{Sigma: 25}
	bad := []*Scorer{
		{Schedule: sched, Time: 0, Iterations: 3},
		{Schedule: sched, Time: 1.5, Iterations: 3},
		{Schedule: sched, Time: math.NaN(), Iterations: 3},
		{Schedule: sched, Time: 1e-3, Iterations: 0},
		{Schedule: sched, Time: 1e-3, Iterations: -2},
		{Schedule: &anysde.VESchedule{Sigma: 1}, Time: 1e-3, Iterations: 3},
	}
	for i, s := range bad {
		if s.Validate() == nil {
			t.Errorf("scorer %d should be invalid", i)
		}
		s.Estimator = zeroEstimator{}
		if _, err := s.Energy(anyvec64.MakeVector(3), 1, 3); err == nil {
			t.Errorf("scorer %d: energy should fail", i)
		}
	}
	if err := NewScorer(sched, zeroEstimator{}).Validate(); err != nil {
		t.Error(err)
	}
}

func TestEnergyZeroEstimator(t *testing.T) {
	sched := &anysde.VESchedule{Sigma: 25}
	scorer := &Scorer{
		Schedule:   sched,
		Estimator:  zeroEstimator{},
		Time:       1e-3,
		Iterations: 1,
		Rand:       rand.New(rand.NewSource(1337)),
	}
	images := anyvec64.MakeVector(4 * 4 * 3)
	energy, err := scorer.Energy(images, 1, 3)
	if err != nil {
		t.Fatal(err)
	}

	// With a zero score, the adjusted term is exactly the
	// injected noise.
	noise := anyvec64.MakeVector(4 * 4 * 3)
	anyvec.Rand(noise, anyvec.Normal, rand.New(rand.NewSource(1337)))
	noiseData := noise.Data().([]float64)
	std := sched.MarginalStd(1e-3)
	energyData := energy.Data().([]float64)
	if len(energyData) != 16 {
		t.Fatalf("expected 16 energies but got %d", len(energyData))
	}
	for i, actual := range energyData {
		var expected float64
		for z := 0; z < 3; z++ {
			n := noiseData[i*3+z] * std
			expected += n * n / 3
		}
		if math.Abs(actual-expected) > 1e-12 {
			t.Errorf("pixel %d: expected %e but got %e", i, expected, actual)
		}
	}

	maker := NewHeatmapMaker(4, 4)
	heatmap := maker.Heatmaps(energy, 1).Data().([]float64)
	if len(heatmap) != 256*256 {
		t.Fatalf("expected 256x256 heatmap but got %d values", len(heatmap))
	}

	resize := &anyconv.Resize{
		Depth:        1,
		InputWidth:   4,
		InputHeight:  4,
		OutputWidth:  256,
		OutputHeight: 256,
		HalfPixel:    true,
	}
	resized := resize.Apply(anydiff.NewConst(energy), 1).Output().Data().([]float64)
	if math.Abs(sum(resized)-sum(energyData)*256*256/16) > 1e-9*sum(resized) {
		t.Errorf("resizing should scale total energy by the area ratio")
	}

	// Every resized pixel is spread over the windows that
	// cover it, each of which divides by the window area.
	var expectedTotal float64
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			expectedTotal += resized[x+y*256] * float64(coverage(x)*coverage(y)) / (31 * 31)
		}
	}
	if math.Abs(sum(heatmap)-expectedTotal) > 1e-9*expectedTotal {
		t.Errorf("expected total %f but got %f", expectedTotal, sum(heatmap))
	}
	if sum(heatmap) > sum(resized) {
		t.Error("smoothing should not add energy")
	}
}

func TestEnergyVarianceDecreases(t *testing.T) {
	sched := &anysde.VESchedule{Sigma: 25}
	images := anyvec64.MakeVector(2 * 2 * 3)
	anyvec.Rand(images, anyvec.Uniform, rand.New(rand.NewSource(1)))

	pixelVariance := func(iterations int, seed int64) float64 {
		scorer := &Scorer{
			Schedule:   sched,
			Estimator:  noisyEstimator{Scale: -100},
			Time:       1e-3,
			Iterations: iterations,
			Rand:       rand.New(rand.NewSource(seed)),
		}
		var samples []float64
		for i := 0; i < 300; i++ {
			energy, err := scorer.Energy(images, 1, 3)
			if err != nil {
				t.Fatal(err)
			}
			samples = append(samples, energy.Data().([]float64)[0])
		}
		return stat.Variance(samples, nil)
	}

	v1 := pixelVariance(1, 100)
	v16 := pixelVariance(16, 200)
	if v16 >= v1/4 {
		t.Errorf("variance with 16 iterations (%e) should be far below 1 iteration (%e)", v16, v1)
	}
}

func TestHeatmapsNonNegative(t *testing.T) {
	scorer := &Scorer{
		Schedule:   &anysde.VESchedule{Sigma: 25},
		Estimator:  noisyEstimator{Scale: 37},
		Time:       1e-3,
		Iterations: 2,
	}
	images := anyvec64.MakeVector(2 * 5 * 3 * 3)
	anyvec.Rand(images, anyvec.Normal, nil)
	energy, err := scorer.Energy(images, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	maker := &HeatmapMaker{InputWidth: 5, InputHeight: 3, OutputSize: 16, PoolSpan: 5}
	heatmaps := maker.Heatmaps(energy, 2)
	for i, x := range heatmaps.Data().([]float64) {
		if x < 0 || math.IsNaN(x) {
			t.Fatalf("value %d is %f", i, x)
		}
	}
	if heatmaps.Len() != 2*16*16 {
		t.Errorf("unexpected heatmap size %d", heatmaps.Len())
	}
}

func TestScores(t *testing.T) {
	heatmaps := anyvec64.MakeVectorData([]float64{
		0.5, 3, 1, 2,
		7, 0, 0, 0.25,
	})
	scores := Scores(heatmaps, 2)
	if len(scores) != 2 || scores[0] != 3 || scores[1] != 7 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestEvaluate(t *testing.T) {
	sched := &anysde.VESchedule{Sigma: 25}
	mask := anyvec64.MakeVector(8 * 8)
	mask.AddScalar(float64(1))
	samples := anysde.SliceSampleList{
		{Image: anyvec64.MakeVector(2 * 2 * 3)},
		{Image: anyvec64.MakeVector(2 * 2 * 3), Anomalous: true, Mask: mask},
		{Image: anyvec64.MakeVector(2 * 2 * 3)},
	}
	scorer := NewScorer(sched, noisyEstimator{Scale: 2})
	maker := &HeatmapMaker{InputWidth: 2, InputHeight: 2, OutputSize: 8, PoolSpan: 3}
	trainer := &anysde.Trainer{Schedule: sched}

	eval, err := scorer.Evaluate(maker, trainer, samples, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.Heatmaps) != 3 || len(eval.Scores) != 3 || len(eval.Labels) != 3 ||
		len(eval.Masks) != 3 {
		t.Fatal("unexpected result lengths")
	}
	if eval.Labels[0] || !eval.Labels[1] || eval.Labels[2] {
		t.Errorf("unexpected labels: %v", eval.Labels)
	}
	if eval.Masks[0] != nil || eval.Masks[1] == nil || eval.Masks[2] != nil {
		t.Error("unexpected masks")
	}
	for i, h := range eval.Heatmaps {
		if len(h) != 64 {
			t.Errorf("heatmap %d has %d values", i, len(h))
		}
	}

	samples[1].Mask = anyvec64.MakeVector(4)
	if _, err := scorer.Evaluate(maker, trainer, samples, 2); err == nil {
		t.Error("expected mask size error")
	}
}

func coverage(x int) int {
	res := 1
	if x < 15 {
		res += x
	} else {
		res += 15
	}
	if 255-x < 15 {
		res += 255 - x
	} else {
		res += 15
	}
	return res
}

func sum(v []float64) float64 {
	var res float64
	for _, x := range v {
		res += x
	}
	return res
}
