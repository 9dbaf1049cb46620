package anyconv

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/convmarkup"
	"github.com/unixpickle/essentials"
)

var markupActivations = map[string]anysde.Activation{
	"ReLU":    anysde.ReLU,
	"Sigmoid": anysde.Sigmoid,
	"Tanh":    anysde.Tanh,
	"Swish":   anysde.Swish,
}

// FromMarkup builds a network from convmarkup code
// (https://github.com/unixpickle/convmarkup).
//
// Only the blocks a score network body needs are
// supported: Conv, Residual, FC, Padding, Resize,
// MeanPool, and the ReLU, Sigmoid, Tanh, and Swish
// activations.
//
// Parameters are initialized with r, or with the global
// math/rand source if r is nil.
func FromMarkup(c anyvec.Creator, code string, r *rand.Rand) (anysde.Layer, error) {
	parsed, err := convmarkup.Parse(code)
	if err != nil {
		return nil, essentials.AddCtx("parse markup", err)
	}
	block, err := parsed.Block(convmarkup.Dims{}, convmarkup.DefaultCreators())
	if err != nil {
		return nil, essentials.AddCtx("build markup", err)
	}
	chain := convmarkup.RealizerChain{convmarkup.MetaRealizer{}, Realizer(c, r)}
	obj, _, err := chain.Realize(convmarkup.Dims{}, block)
	if err != nil {
		return nil, essentials.AddCtx("realize markup", err)
	}
	layer, ok := obj.(anysde.Layer)
	if !ok {
		return nil, fmt.Errorf("realize markup: not an anysde.Layer: %T", obj)
	}
	return layer, nil
}

// Realizer creates a convmarkup.Realizer for the blocks
// listed in FromMarkup.
// It should follow a convmarkup.MetaRealizer in a
// convmarkup.RealizerChain.
func Realizer(c anyvec.Creator, r *rand.Rand) convmarkup.Realizer {
	return &realizer{creator: c, rand: r}
}

type realizer struct {
	creator anyvec.Creator
	rand    *rand.Rand
}

func (r *realizer) Realize(chain convmarkup.RealizerChain, d convmarkup.Dims,
	b convmarkup.Block) (interface{}, error) {
	switch b := b.(type) {
	case *convmarkup.Root:
		return r.blocks(chain, d, b.Children)
	case *convmarkup.Residual:
		body, err := r.blocks(chain, d, b.Residual)
		if err != nil {
			return nil, err
		}
		shortcut, err := r.blocks(chain, d, b.Projection)
		if err != nil {
			return nil, err
		}
		return &Residual{Body: body, Shortcut: shortcut}, nil
	case *convmarkup.Conv:
		conv := &Conv{
			FilterCount:  b.FilterCount,
			FilterWidth:  b.FilterWidth,
			FilterHeight: b.FilterHeight,
			StrideX:      b.StrideX,
			StrideY:      b.StrideY,
			InputWidth:   d.Width,
			InputHeight:  d.Height,
			InputDepth:   d.Depth,
		}
		conv.InitRand(r.creator, r.rand)
		return conv, nil
	case *convmarkup.FC:
		return anysde.NewFC(r.creator, d.Volume(), b.OutCount, r.rand), nil
	case *convmarkup.Padding:
		return &Padding{
			InputWidth:    d.Width,
			InputHeight:   d.Height,
			InputDepth:    d.Depth,
			PaddingTop:    b.Top,
			PaddingRight:  b.Right,
			PaddingBottom: b.Bottom,
			PaddingLeft:   b.Left,
		}, nil
	case *convmarkup.Resize:
		return &Resize{
			Depth:        d.Depth,
			InputWidth:   d.Width,
			InputHeight:  d.Height,
			OutputWidth:  b.Out.Width,
			OutputHeight: b.Out.Height,
		}, nil
	case *convmarkup.Pool:
		if b.Name != "MeanPool" {
			return nil, fmt.Errorf("unsupported pooling: %s", b.Name)
		}
		return &MeanPool{
			SpanX:       b.Width,
			SpanY:       b.Height,
			InputWidth:  d.Width,
			InputHeight: d.Height,
			InputDepth:  d.Depth,
		}, nil
	case *convmarkup.Activation:
		if a, ok := markupActivations[b.Name]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("unknown activation: %s", b.Name)
	}
	return nil, convmarkup.ErrUnsupportedBlock
}

// blocks realizes a sequence of blocks as a flat Net.
// Repeat blocks are unrolled in place.
func (r *realizer) blocks(chain convmarkup.RealizerChain, d convmarkup.Dims,
	blocks []convmarkup.Block) (anysde.Net, error) {
	var res anysde.Net
	for _, b := range blocks {
		if rep, ok := b.(*convmarkup.Repeat); ok {
			for i := 0; i < rep.N; i++ {
				sub, err := r.blocks(chain, d, rep.Children)
				if err != nil {
					return nil, err
				}
				res = append(res, sub...)
			}
			continue
		}
		obj, _, err := chain.Realize(d, b)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			layer, ok := obj.(anysde.Layer)
			if !ok {
				return nil, fmt.Errorf("not an anysde.Layer: %T", obj)
			}
			res = append(res, layer)
		}
		d = b.OutDims()
	}
	return res, nil
}
