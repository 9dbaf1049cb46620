package anyconv

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anysde"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var r Residual
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeResidual)
}

// Residual adds the output of Body to the output of
// Shortcut.
//
// An empty Shortcut is the identity, giving a plain skip
// connection.
type Residual struct {
	Body     anysde.Net
	Shortcut anysde.Net
}

// DeserializeResidual deserializes a Residual.
func DeserializeResidual(d []byte) (*Residual, error) {
	var res Residual
	if err := serializer.DeserializeAny(d, &res.Body, &res.Shortcut); err != nil {
		return nil, essentials.AddCtx("deserialize Residual", err)
	}
	return &res, nil
}

// Apply applies the layer.
func (r *Residual) Apply(in anydiff.Res, batch int) anydiff.Res {
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return anydiff.Add(r.Shortcut.Apply(in, batch), r.Body.Apply(in, batch))
	})
}

// Parameters returns the body's parameters followed by the
// shortcut's parameters.
func (r *Residual) Parameters() []*anydiff.Var {
	return append(r.Body.Parameters(), r.Shortcut.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a Residual with the serializer package.
func (r *Residual) SerializerType() string {
	return "github.com/unixpickle/anysde/anyconv.Residual"
}

// Serialize serializes the Residual.
func (r *Residual) Serialize() ([]byte, error) {
	return serializer.SerializeAny(r.Body, r.Shortcut)
}
