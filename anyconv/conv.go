// Package anyconv provides convolutional layers for
// score networks, along with the image-space layers used
// to post-process anomaly heatmaps: bilinear resizing,
// zero padding, and strided mean pooling.
package anyconv

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c Conv
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConv)
}

// Conv is a convolutional layer without implicit padding.
//
// All input and output tensors are row-major depth-minor.
// Filters are stored as a FilterCount x (FilterHeight *
// FilterWidth * InputDepth) matrix whose rows are
// row-major depth-minor patches.
//
// Each image in a batch is processed on its own
// goroutine.
type Conv struct {
	FilterCount  int
	FilterWidth  int
	FilterHeight int

	StrideX int
	StrideY int

	InputWidth  int
	InputHeight int
	InputDepth  int

	Filters *anydiff.Var
	Biases  *anydiff.Var

	patchLock sync.Mutex
	patches   anyvec.Mapper
}

// DeserializeConv deserializes a Conv.
func DeserializeConv(d []byte) (*Conv, error) {
	var inW, inH, inD, fW, fH, sX, sY serializer.Int
	var f, b *anyvecsave.S
	err := serializer.DeserializeAny(d, &inW, &inH, &inD, &fW, &fH, &sX, &sY, &f, &b)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Conv", err)
	}
	return &Conv{
		FilterCount:  b.Vector.Len(),
		FilterWidth:  int(fW),
		FilterHeight: int(fH),
		StrideX:      int(sX),
		StrideY:      int(sY),
		InputWidth:   int(inW),
		InputHeight:  int(inH),
		InputDepth:   int(inD),
		Filters:      anydiff.NewVar(f.Vector),
		Biases:       anydiff.NewVar(b.Vector),
	}, nil
}

// NewConv creates a randomized stride-1 Conv with square
// filters.
//
// If r is nil, the global math/rand source is used.
func NewConv(cr anyvec.Creator, inW, inH, inD, filters, size int, r *rand.Rand) *Conv {
	res := &Conv{
		FilterCount:  filters,
		FilterWidth:  size,
		FilterHeight: size,
		StrideX:      1,
		StrideY:      1,
		InputWidth:   inW,
		InputHeight:  inH,
		InputDepth:   inD,
	}
	res.InitRand(cr, r)
	return res
}

// InitRand draws filters from a normal distribution with
// variance 1/fan-in and zeroes the biases.
//
// If r is nil, the global math/rand source is used.
func (c *Conv) InitRand(cr anyvec.Creator, r *rand.Rand) {
	c.InitZero(cr)
	anyvec.Rand(c.Filters.Vector, anyvec.Normal, r)
	c.Filters.Vector.Scale(cr.MakeNumeric(1 / math.Sqrt(float64(c.patchSize()))))
}

// InitZero allocates zero filters and biases.
func (c *Conv) InitZero(cr anyvec.Creator) {
	c.Filters = anydiff.NewVar(cr.MakeVector(c.patchSize() * c.FilterCount))
	c.Biases = anydiff.NewVar(cr.MakeVector(c.FilterCount))
}

// OutputWidth returns the width of the output tensor.
func (c *Conv) OutputWidth() int {
	return numWindows(c.InputWidth, c.FilterWidth, c.StrideX)
}

// OutputHeight returns the height of the output tensor.
func (c *Conv) OutputHeight() int {
	return numWindows(c.InputHeight, c.FilterHeight, c.StrideY)
}

// OutputDepth returns the depth of the output tensor.
func (c *Conv) OutputDepth() int {
	return c.FilterCount
}

// Apply applies the layer to a batch of input tensors.
//
// The layer must have been initialized.
func (c *Conv) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if c.Filters == nil || c.Biases == nil {
		panic("uninitialized Conv")
	}
	if in.Output().Len() != batchSize*c.InputWidth*c.InputHeight*c.InputDepth {
		panic("incorrect input size")
	}
	cr := in.Output().Creator()
	if c.OutputWidth() == 0 || c.OutputHeight() == 0 {
		return anydiff.NewConst(cr.MakeVector(0))
	}

	mapper := c.patchMapper(cr)
	filters := c.filterMatrix()
	outputs := make([]anyvec.Vector, batchSize)
	forEachImage(batchSize, func(i int) {
		patches := c.imagePatches(mapper, in.Output(), i)
		out := &anyvec.Matrix{
			Data: cr.MakeVector(patches.Rows * c.FilterCount),
			Rows: patches.Rows,
			Cols: c.FilterCount,
		}
		out.Product(false, true, cr.MakeNumeric(1), patches, filters, cr.MakeNumeric(0))
		outputs[i] = out.Data
	})
	out := cr.Concat(outputs...)
	anyvec.AddRepeated(out, c.Biases.Vector)

	return &convRes{
		Layer:  c,
		Mapper: mapper,
		N:      batchSize,
		In:     in,
		OutVec: out,
		V:      anydiff.MergeVarSets(in.Vars(), anydiff.NewVarSet(c.Filters, c.Biases)),
	}
}

// Parameters returns the filters followed by the biases.
//
// If the layer is uninitialized, the result is nil.
func (c *Conv) Parameters() []*anydiff.Var {
	if c.Filters == nil || c.Biases == nil {
		return nil
	}
	return []*anydiff.Var{c.Filters, c.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Conv with the serializer package.
func (c *Conv) SerializerType() string {
	return "github.com/unixpickle/anysde/anyconv.Conv"
}

// Serialize serializes the layer.
//
// If the layer was not yet initialized, this fails.
func (c *Conv) Serialize() ([]byte, error) {
	if c.Filters == nil || c.Biases == nil {
		return nil, errors.New("cannot serialize uninitialized Conv")
	}
	return serializer.SerializeAny(
		serializer.Int(c.InputWidth),
		serializer.Int(c.InputHeight),
		serializer.Int(c.InputDepth),
		serializer.Int(c.FilterWidth),
		serializer.Int(c.FilterHeight),
		serializer.Int(c.StrideX),
		serializer.Int(c.StrideY),
		&anyvecsave.S{Vector: c.Filters.Vector},
		&anyvecsave.S{Vector: c.Biases.Vector},
	)
}

func (c *Conv) patchSize() int {
	return c.FilterWidth * c.FilterHeight * c.InputDepth
}

func (c *Conv) filterMatrix() *anyvec.Matrix {
	return &anyvec.Matrix{
		Data: c.Filters.Vector,
		Rows: c.FilterCount,
		Cols: c.patchSize(),
	}
}

// imagePatches gathers the patches of the i-th image into
// a matrix with one row per output position.
func (c *Conv) imagePatches(m anyvec.Mapper, batch anyvec.Vector, i int) *anyvec.Matrix {
	image := batch.Slice(i*m.InSize(), (i+1)*m.InSize())
	res := &anyvec.Matrix{
		Data: batch.Creator().MakeVector(m.OutSize()),
		Rows: c.OutputWidth() * c.OutputHeight(),
		Cols: c.patchSize(),
	}
	m.Map(image, res.Data)
	return res
}

// patchMapper creates (or reuses) a mapper from an input
// image to its concatenated patches.
func (c *Conv) patchMapper(cr anyvec.Creator) anyvec.Mapper {
	c.patchLock.Lock()
	defer c.patchLock.Unlock()
	if c.patches != nil && c.patches.Creator() == cr {
		return c.patches
	}
	rowSize := c.InputWidth * c.InputDepth
	table := make([]int, 0, c.OutputWidth()*c.OutputHeight()*c.patchSize())
	for outY := 0; outY < c.OutputHeight(); outY++ {
		for outX := 0; outX < c.OutputWidth(); outX++ {
			startX, startY := outX*c.StrideX, outY*c.StrideY
			for y := startY; y < startY+c.FilterHeight; y++ {
				offset := y*rowSize + startX*c.InputDepth
				for j := 0; j < c.FilterWidth*c.InputDepth; j++ {
					table = append(table, offset+j)
				}
			}
		}
	}
	c.patches = cr.MakeMapper(c.InputHeight*rowSize, table)
	return c.patches
}

type convRes struct {
	Layer  *Conv
	Mapper anyvec.Mapper
	N      int
	In     anydiff.Res
	OutVec anyvec.Vector
	V      anydiff.VarSet
}

func (c *convRes) Output() anyvec.Vector {
	return c.OutVec
}

func (c *convRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *convRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	layer := c.Layer
	cr := u.Creator()
	one, zero := cr.MakeNumeric(1), cr.MakeNumeric(0)

	if biasGrad, ok := g[layer.Biases]; ok {
		biasGrad.Add(anyvec.SumRows(u, layer.FilterCount))
	}

	filterGrad, doFilters := g[layer.Filters]
	doInput := g.Intersects(c.In.Vars())
	if !doFilters && !doInput {
		return
	}

	filters := layer.filterMatrix()
	outSize := u.Len() / c.N
	filterGrads := make([]anyvec.Vector, c.N)
	inputGrads := make([]anyvec.Vector, c.N)
	forEachImage(c.N, func(i int) {
		upstream := &anyvec.Matrix{
			Data: u.Slice(i*outSize, (i+1)*outSize),
			Rows: outSize / layer.FilterCount,
			Cols: layer.FilterCount,
		}
		if doFilters {
			patches := layer.imagePatches(c.Mapper, c.In.Output(), i)
			grad := &anyvec.Matrix{
				Data: cr.MakeVector(filters.Data.Len()),
				Rows: filters.Rows,
				Cols: filters.Cols,
			}
			grad.Product(true, false, one, upstream, patches, zero)
			filterGrads[i] = grad.Data
		}
		if doInput {
			patchGrad := &anyvec.Matrix{
				Data: cr.MakeVector(c.Mapper.OutSize()),
				Rows: upstream.Rows,
				Cols: filters.Cols,
			}
			patchGrad.Product(false, false, one, upstream, filters, zero)
			inputGrads[i] = cr.MakeVector(c.Mapper.InSize())
			c.Mapper.MapTranspose(patchGrad.Data, inputGrads[i])
		}
	})

	if doFilters {
		for _, grad := range filterGrads {
			filterGrad.Add(grad)
		}
	}
	if doInput {
		c.In.Propagate(cr.Concat(inputGrads...), g)
	}
}
