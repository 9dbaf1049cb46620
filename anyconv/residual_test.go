package anyconv

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

func TestResidualIdentity(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	fc := anysde.NewFC(c, 3, 3, nil)
	r := &Residual{Body: anysde.Net{fc}}
	in := anyvec64.MakeVector(6)
	anyvec.Rand(in, anyvec.Normal, nil)

	expected := fc.Apply(anydiff.NewConst(in), 2).Output().Copy()
	expected.Add(in)
	actual := r.Apply(anydiff.NewConst(in), 2).Output()
	assertClose(t, expected.Data().([]float64), actual.Data().([]float64), 1e-12)
}

func TestResidualProp(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	r := &Residual{
		Body:     anysde.Net{anysde.NewFC(c, 3, 2, nil), anysde.Tanh},
		Shortcut: anysde.Net{anysde.NewFC(c, 3, 2, nil)},
	}
	in := anyvec64.MakeVector(9)
	anyvec.Rand(in, anyvec.Normal, nil)
	inVar := anydiff.NewVar(in)
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return r.Apply(inVar, 3)
		},
		V: append([]*anydiff.Var{inVar}, r.Parameters()...),
	}
	checker.FullCheck(t)
}

func TestResidualSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for _, r := range []*Residual{
		{
			Body:     anysde.Net{anysde.NewFC(c, 3, 2, nil)},
			Shortcut: anysde.Net{anysde.NewFC(c, 3, 2, nil)},
		},
		{Body: anysde.Net{anysde.NewFC(c, 3, 3, nil), anysde.ReLU}},
	} {
		data, err := serializer.SerializeAny(r)
		if err != nil {
			t.Fatal(err)
		}
		var decoded *Residual
		if err := serializer.DeserializeAny(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if len(decoded.Body) != len(r.Body) || len(decoded.Shortcut) != len(r.Shortcut) {
			t.Fatalf("unexpected layer: %+v", decoded)
		}
		in := anyvec64.MakeVector(3)
		anyvec.Rand(in, anyvec.Normal, nil)
		expected := r.Apply(anydiff.NewConst(in), 1).Output().Data().([]float64)
		actual := decoded.Apply(anydiff.NewConst(in), 1).Output().Data().([]float64)
		assertClose(t, expected, actual, 1e-12)
	}
}
