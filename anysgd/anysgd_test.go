package anysgd

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

type testSample struct {
	X2 float64
	Y2 float64
	XY float64
	X  float64
	Y  float64
}

func (t *testSample) Apply(x, y anydiff.Res) anydiff.Res {
	mk := x.Output().Creator().MakeNumeric
	a := anydiff.Scale(anydiff.Mul(x, x), mk(t.X2))
	b := anydiff.Scale(anydiff.Mul(y, y), mk(t.Y2))
	c := anydiff.Scale(anydiff.Mul(x, y), mk(t.XY))
	d := anydiff.Scale(x, mk(t.X))
	e := anydiff.Scale(y, mk(t.Y))
	return anydiff.Add(
		anydiff.Add(a, b),
		anydiff.Add(anydiff.Add(c, d), e),
	)
}

type testSampleList []*testSample

func newTestSampleList() testSampleList {
	// Together, these polynomials add up to 3x^2+3xy-2x+y^2.
	// The global minimum is (x = 4/3, y = -2).
	return testSampleList{
		{X2: 2, X: -1, XY: 0, Y2: 0.5},
		{X2: -1, X: 0, XY: 2, Y2: 0.5},
		{X2: 2, X: -1, XY: 1, Y2: 0},
	}
}

func (t testSampleList) Len() int {
	return len(t)
}

func (t testSampleList) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
}

func (t testSampleList) Slice(i, j int) SampleList {
	return append(testSampleList{}, t[i:j]...)
}

// testFetcher uses sample lists directly as batches.
type testFetcher struct{}

func (t testFetcher) Fetch(s SampleList) (Batch, error) {
	return s, nil
}

type testGradienter struct {
	X *anydiff.Var
	Y *anydiff.Var
}

func newTestGradienter(c anyvec.Creator) *testGradienter {
	return &testGradienter{
		X: anydiff.NewVar(c.MakeVector(1)),
		Y: anydiff.NewVar(c.MakeVector(1)),
	}
}

func (t *testGradienter) TotalCost(b Batch) anydiff.Res {
	var cost anydiff.Res
	for _, x := range b.(testSampleList) {
		res := x.Apply(t.X, t.Y)
		if cost == nil {
			cost = res
		} else {
			cost = anydiff.Add(cost, res)
		}
	}
	return cost
}

func (t *testGradienter) Gradient(b Batch) (anydiff.Grad, error) {
	grad, _ := CosterGrad(t, b, []*anydiff.Var{t.X, t.Y})
	return grad, nil
}

func (t *testGradienter) current() (float64, float64) {
	return t.X.Vector.Data().([]float64)[0], t.Y.Vector.Data().([]float64)[0]
}

func (t *testGradienter) errorMargin() float64 {
	x, y := t.current()
	return math.Max(math.Abs(x-4.0/3), math.Abs(y+2))
}

func TestSGD(t *testing.T) {
	g := newTestGradienter(anyvec64.DefaultCreator{})
	s := &SGD{
		Fetcher:    testFetcher{},
		Gradienter: g,
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0.05),
	}
	for i := 0; i < 3000; i++ {
		if err := s.Epoch(); err != nil {
			t.Fatal(err)
		}
	}
	if g.errorMargin() > 1e-4 {
		x, y := g.current()
		t.Errorf("bad solution: %f, %f", x, y)
	}
}

type recordingGradienter struct {
	Seen   map[*testSample]int
	Losses []float64
	Sizes  []int
	Last   float64
}

func (r *recordingGradienter) Gradient(b Batch) (anydiff.Grad, error) {
	list := b.(testSampleList)
	for _, s := range list {
		r.Seen[s]++
	}
	r.Last = r.Losses[len(r.Sizes)]
	r.Sizes = append(r.Sizes, len(list))
	return anydiff.Grad{}, nil
}

func TestSGDEpochBatches(t *testing.T) {
	var samples testSampleList
	for i := 0; i < 10; i++ {
		samples = append(samples, &testSample{X: float64(i)})
	}
	g := &recordingGradienter{
		Seen:   map[*testSample]int{},
		Losses: []float64{1.5, 2.25, 7.125},
	}
	var avg WeightedMean
	var afterCalls int
	s := &SGD{
		Fetcher:    testFetcher{},
		Gradienter: g,
		Samples:    samples,
		Rater:      ConstRater(0.1),
		BatchSize:  4,
		AfterStep: func(b Batch, size int) {
			afterCalls++
			avg.Add(g.Last, float64(size))
		},
		Rand: rand.New(rand.NewSource(1337)),
	}
	if err := s.Epoch(); err != nil {
		t.Fatal(err)
	}

	expectedSizes := []int{4, 4, 2}
	if len(g.Sizes) != len(expectedSizes) {
		t.Fatalf("expected %d batches but got %d", len(expectedSizes), len(g.Sizes))
	}
	for i, x := range expectedSizes {
		if g.Sizes[i] != x {
			t.Errorf("batch %d: expected size %d but got %d", i, x, g.Sizes[i])
		}
	}
	if len(g.Seen) != 10 {
		t.Errorf("expected 10 distinct samples but saw %d", len(g.Seen))
	}
	for s, count := range g.Seen {
		if count != 1 {
			t.Errorf("sample %v seen %d times", s.X, count)
		}
	}
	if afterCalls != 3 {
		t.Errorf("expected 3 AfterStep calls but got %d", afterCalls)
	}
	if s.NumProcessed != 10 || s.Epochs() != 1 {
		t.Errorf("unexpected progress: %d samples, %f epochs", s.NumProcessed, s.Epochs())
	}

	expected := (1.5*4 + 2.25*4 + 7.125*2) / (4 + 4 + 2)
	if avg.Mean() != expected {
		t.Errorf("epoch loss should be %f but got %f", expected, avg.Mean())
	}
}

type failingFetcher struct {
	Remaining int
}

func (f *failingFetcher) Fetch(s SampleList) (Batch, error) {
	if f.Remaining == 0 {
		return nil, errTestFetch
	}
	f.Remaining--
	return s, nil
}

type testError string

func (t testError) Error() string {
	return string(t)
}

const errTestFetch = testError("fetch failed")

func TestSGDFetchError(t *testing.T) {
	g := &recordingGradienter{
		Seen:   map[*testSample]int{},
		Losses: make([]float64, 10),
	}
	s := &SGD{
		Fetcher:    &failingFetcher{Remaining: 1},
		Gradienter: g,
		Samples:    newTestSampleList(),
		Rater:      ConstRater(0.1),
		BatchSize:  1,
	}
	if err := s.Epoch(); err != errTestFetch {
		t.Fatalf("expected fetch error but got %v", err)
	}
	if len(g.Sizes) != 1 {
		t.Errorf("expected 1 step before the failure but got %d", len(g.Sizes))
	}
}

func TestMultiStepRater(t *testing.T) {
	r := &MultiStepRater{Initial: 1, Milestones: []int{2, 4}, Gamma: 0.1}
	cases := []struct {
		Epoch float64
		Rate  float64
	}{
		{0, 1},
		{1.5, 1},
		{2, 0.1},
		{3.99, 0.1},
		{4, 0.01},
		{100, 0.01},
	}
	for _, c := range cases {
		if actual := r.Rate(c.Epoch); math.Abs(actual-c.Rate) > 1e-12 {
			t.Errorf("epoch %f: expected rate %f but got %f", c.Epoch, c.Rate, actual)
		}
	}
}

func TestWeightedMean(t *testing.T) {
	var w WeightedMean
	if w.Mean() != 0 {
		t.Errorf("empty mean should be 0")
	}
	w.Add(3, 16)
	w.Add(5, 16)
	w.Add(1, 3)
	expected := (3.0*16 + 5.0*16 + 1.0*3) / (16 + 16 + 3)
	if w.Mean() != expected {
		t.Errorf("expected %f but got %f", expected, w.Mean())
	}
	if w.Weight() != 35 {
		t.Errorf("expected weight 35 but got %f", w.Weight())
	}
	w.Reset()
	if w.Weight() != 0 || w.Mean() != 0 {
		t.Error("reset failed")
	}
}
