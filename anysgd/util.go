package anysgd

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// shuffle performs a Fisher-Yates shuffle using r, or the
// global source if r is nil.
func shuffle(s SampleList, r *rand.Rand) {
	intn := rand.Intn
	if r != nil {
		intn = r.Intn
	}
	for i := s.Len() - 1; i > 0; i-- {
		s.Swap(i, intn(i+1))
	}
}

// CosterGrad computes the gradient of a Coster's total
// cost with respect to the parameters.
//
// It returns the gradient along with the numerical value
// of the cost.
// If the numeric type is not float32 or float64, the
// cost is reported as 0.
func CosterGrad(c Coster, b Batch, params []*anydiff.Var) (anydiff.Grad, float64) {
	grad := anydiff.Grad{}
	for _, p := range params {
		grad[p] = p.Vector.Creator().MakeVector(p.Vector.Len())
	}
	cost := c.TotalCost(b)
	total := floatSum(cost.Output())
	if len(grad) > 0 {
		upstream := cost.Output().Creator().MakeVector(cost.Output().Len())
		upstream.AddScalar(upstream.Creator().MakeNumeric(1))
		cost.Propagate(upstream, grad)
	}
	return grad, total
}

func floatSum(v anyvec.Vector) float64 {
	switch data := v.Data().(type) {
	case []float32:
		var sum float32
		for _, x := range data {
			sum += x
		}
		return float64(sum)
	case []float64:
		var sum float64
		for _, x := range data {
			sum += x
		}
		return sum
	default:
		return 0
	}
}

func valueOrDefault(value, def float64) float64 {
	if value == 0 {
		return def
	}
	return value
}
