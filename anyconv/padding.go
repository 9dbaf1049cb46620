package anyconv

import (
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var p Padding
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePadding)
}

// A Padding layer surrounds each input tensor with zeros.
type Padding struct {
	InputWidth  int
	InputHeight int
	InputDepth  int

	PaddingTop    int
	PaddingRight  int
	PaddingBottom int
	PaddingLeft   int

	placeLock sync.Mutex
	placer    anyvec.Mapper
}

// NewBorder creates a Padding that adds the same number
// of zeros to every side.
func NewBorder(width, height, depth, border int) *Padding {
	return &Padding{
		InputWidth:    width,
		InputHeight:   height,
		InputDepth:    depth,
		PaddingTop:    border,
		PaddingRight:  border,
		PaddingBottom: border,
		PaddingLeft:   border,
	}
}

// DeserializePadding deserializes a Padding.
func DeserializePadding(d []byte) (*Padding, error) {
	var dims [7]serializer.Int
	err := serializer.DeserializeAny(d, &dims[0], &dims[1], &dims[2], &dims[3], &dims[4],
		&dims[5], &dims[6])
	if err != nil {
		return nil, essentials.AddCtx("deserialize Padding", err)
	}
	return &Padding{
		InputWidth:    int(dims[0]),
		InputHeight:   int(dims[1]),
		InputDepth:    int(dims[2]),
		PaddingTop:    int(dims[3]),
		PaddingRight:  int(dims[4]),
		PaddingBottom: int(dims[5]),
		PaddingLeft:   int(dims[6]),
	}, nil
}

// OutputWidth returns the width of padded tensors.
func (p *Padding) OutputWidth() int {
	return p.InputWidth + p.PaddingLeft + p.PaddingRight
}

// OutputHeight returns the height of padded tensors.
func (p *Padding) OutputHeight() int {
	return p.InputHeight + p.PaddingTop + p.PaddingBottom
}

// Apply pads every tensor in the batch.
func (p *Padding) Apply(in anydiff.Res, batch int) anydiff.Res {
	if in.Output().Len() != batch*p.InputWidth*p.InputHeight*p.InputDepth {
		panic("incorrect input size")
	}
	m := p.placeMapper(in.Output().Creator())
	return &paddingRes{
		In:     in,
		Placer: m,
		OutVec: batchMapTranspose(m, in.Output()),
	}
}

// SerializerType returns the unique ID used to serialize
// a Padding with the serializer package.
func (p *Padding) SerializerType() string {
	return "github.com/unixpickle/anysde/anyconv.Padding"
}

// Serialize serializes a Padding.
func (p *Padding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(p.InputWidth),
		serializer.Int(p.InputHeight),
		serializer.Int(p.InputDepth),
		serializer.Int(p.PaddingTop),
		serializer.Int(p.PaddingRight),
		serializer.Int(p.PaddingBottom),
		serializer.Int(p.PaddingLeft),
	)
}

// placeMapper returns a mapper from padded tensors to
// their interiors.
// Its transpose places an input tensor inside a zero
// border.
func (p *Padding) placeMapper(c anyvec.Creator) anyvec.Mapper {
	p.placeLock.Lock()
	defer p.placeLock.Unlock()
	if p.placer != nil && p.placer.Creator() == c {
		return p.placer
	}
	outRow := p.OutputWidth() * p.InputDepth
	rowLen := p.InputWidth * p.InputDepth
	table := make([]int, 0, rowLen*p.InputHeight)
	for y := 0; y < p.InputHeight; y++ {
		start := (y+p.PaddingTop)*outRow + p.PaddingLeft*p.InputDepth
		for i := 0; i < rowLen; i++ {
			table = append(table, start+i)
		}
	}
	p.placer = c.MakeMapper(outRow*p.OutputHeight(), table)
	return p.placer
}

type paddingRes struct {
	In     anydiff.Res
	Placer anyvec.Mapper
	OutVec anyvec.Vector
}

func (p *paddingRes) Output() anyvec.Vector {
	return p.OutVec
}

func (p *paddingRes) Vars() anydiff.VarSet {
	return p.In.Vars()
}

func (p *paddingRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	p.In.Propagate(batchMap(p.Placer, u), g)
}
