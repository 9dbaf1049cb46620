package anysde

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestSwishOutput(t *testing.T) {
	in := []float64{-2, 0, 0.5, 3}
	out := Swish.Apply(anydiff.NewConst(anyvec64.MakeVectorData(in)), 1).Output()
	for i, x := range out.Data().([]float64) {
		expected := in[i] / (1 + math.Exp(-in[i]))
		if math.Abs(x-expected) > 1e-12 {
			t.Errorf("input %f: expected %f but got %f", in[i], expected, x)
		}
	}
}

func TestActivationProp(t *testing.T) {
	for _, a := range []Activation{Tanh, Sigmoid, Swish} {
		v := anydiff.NewVar(anyvec64.MakeVectorData([]float64{-1.5, -0.3, 0.2, 0.9, 2.5}))
		checker := anydifftest.ResChecker{
			F: func() anydiff.Res {
				return a.Apply(v, 1)
			},
			V: []*anydiff.Var{v},
		}
		t.Run(a.String(), checker.FullCheck)
	}
}
