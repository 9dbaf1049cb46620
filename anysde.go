// Package anysde provides score-based generative models
// built on a variance-exploding SDE, along with the
// layer abstractions used to build score networks.
//
// Sub-packages provide convolutional layers, training
// utilities, anomaly scoring, and dataset access.
package anysde

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n Net
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNet)
}

// A Layer maps a packed batch of equally sized tensors to
// another packed batch.
type Layer interface {
	Apply(in anydiff.Res, batchSize int) anydiff.Res
}

// A Parameterizer exposes learnable variables, always in
// the same order.
type Parameterizer interface {
	Parameters() []*anydiff.Var
}

// A Net is a sequence of layers.
// An empty Net is the identity.
type Net []Layer

// DeserializeNet deserializes a Net.
// Every element must deserialize to a Layer.
func DeserializeNet(d []byte) (Net, error) {
	objs, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Net", err)
	}
	res := Net{}
	for i, obj := range objs {
		layer, ok := obj.(Layer)
		if !ok {
			return nil, fmt.Errorf("deserialize Net: element %d is %T, not a Layer", i, obj)
		}
		res = append(res, layer)
	}
	return res, nil
}

// Apply feeds the batch through every layer in order.
func (n Net) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	out := in
	for _, layer := range n {
		out = layer.Apply(out, batchSize)
	}
	return out
}

// Eval applies the Net to a constant batch and returns the
// raw output.
func (n Net) Eval(in anyvec.Vector, batchSize int) anyvec.Vector {
	return n.Apply(anydiff.NewConst(in), batchSize).Output()
}

// Parameters concatenates the parameters of every layer
// that is a Parameterizer, first layer first.
func (n Net) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, layer := range n {
		if p, ok := layer.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Net with the serializer package.
func (n Net) SerializerType() string {
	return "github.com/unixpickle/anysde.Net"
}

// Serialize serializes the layers in order.
// It fails if a layer is not a serializer.Serializer.
func (n Net) Serialize() ([]byte, error) {
	layers := make([]serializer.Serializer, len(n))
	for i, layer := range n {
		s, ok := layer.(serializer.Serializer)
		if !ok {
			return nil, fmt.Errorf("serialize Net: layer %d (%T) is not a Serializer", i, layer)
		}
		layers[i] = s
	}
	return serializer.SerializeSlice(layers)
}
