package anysgd

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Default Adam hyperparameters.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam is a Transformer implementing the Adam optimizer
// (https://arxiv.org/abs/1412.6980).
//
// A non-zero WeightDecay adds decoupled weight decay
// (AdamW, https://arxiv.org/abs/1711.05101): since SGD
// scales the transformed gradient by the learning rate,
// each step shrinks every parameter by a factor of
// (1 - rate*WeightDecay) before the moment update.
//
// Zero fields select the defaults.
type Adam struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64

	WeightDecay float64

	steps   int
	moments map[*anydiff.Var]*adamMoments
}

type adamMoments struct {
	First  anyvec.Vector
	Second anyvec.Vector
}

// Transform replaces the gradient in place with the Adam
// update direction.
//
// This is not thread-safe.
func (a *Adam) Transform(g anydiff.Grad) anydiff.Grad {
	if a.moments == nil {
		a.moments = map[*anydiff.Var]*adamMoments{}
	}
	a.steps++
	beta1 := valueOrDefault(a.Beta1, DefaultBeta1)
	beta2 := valueOrDefault(a.Beta2, DefaultBeta2)
	eps := valueOrDefault(a.Epsilon, DefaultEpsilon)
	correct1 := 1 - math.Pow(beta1, float64(a.steps))
	correct2 := 1 - math.Pow(beta2, float64(a.steps))

	for variable, grad := range g {
		c := grad.Creator()
		m, ok := a.moments[variable]
		if !ok {
			m = &adamMoments{
				First:  c.MakeVector(grad.Len()),
				Second: c.MakeVector(grad.Len()),
			}
			a.moments[variable] = m
		}
		mixIn(m.First, grad, beta1)
		squared := grad.Copy()
		squared.Mul(grad)
		mixIn(m.Second, squared, beta2)

		denom := m.Second.Copy()
		denom.Scale(c.MakeNumeric(1 / correct2))
		anyvec.Pow(denom, c.MakeNumeric(0.5))
		denom.AddScalar(c.MakeNumeric(eps))

		grad.Set(m.First)
		grad.Scale(c.MakeNumeric(1 / correct1))
		grad.Div(denom)

		if a.WeightDecay != 0 {
			decay := variable.Vector.Copy()
			decay.Scale(c.MakeNumeric(a.WeightDecay))
			grad.Add(decay)
		}
	}
	return g
}

// mixIn sets avg = beta*avg + (1-beta)*x.
func mixIn(avg, x anyvec.Vector, beta float64) {
	c := avg.Creator()
	avg.Scale(c.MakeNumeric(beta))
	scaled := x.Copy()
	scaled.Scale(c.MakeNumeric(1 - beta))
	avg.Add(scaled)
}
