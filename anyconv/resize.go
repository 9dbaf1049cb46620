package anyconv

import (
	"math"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var r Resize
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeResize)
}

// A Resize layer resizes tensors using bilinear
// interpolation.
//
// By default, the corner pixels of the input and output
// are aligned, and the output dimensions must be greater
// than 1.
// With HalfPixel set, pixel centers are aligned instead:
// output pixel i samples the input at
//
//     (i+0.5)*in/out - 0.5
//
// clamped to the input bounds.
type Resize struct {
	Depth int

	InputWidth   int
	InputHeight  int
	OutputWidth  int
	OutputHeight int

	HalfPixel bool

	mappingLock     sync.Mutex
	neighborMap     anyvec.Mapper
	neighborWeights anyvec.Vector
}

// DeserializeResize deserializes a Resize.
func DeserializeResize(d []byte) (*Resize, error) {
	var depth, inW, inH, outW, outH, halfPixel serializer.Int
	err := serializer.DeserializeAny(d, &depth, &inW, &inH, &outW, &outH, &halfPixel)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Resize", err)
	}
	return &Resize{
		Depth:        int(depth),
		InputWidth:   int(inW),
		InputHeight:  int(inH),
		OutputWidth:  int(outW),
		OutputHeight: int(outH),
		HalfPixel:    halfPixel != 0,
	}, nil
}

// Apply applies the layer to an input tensor.
func (r *Resize) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if batchSize == 0 {
		return anydiff.NewConst(in.Output().Creator().MakeVector(0))
	}
	minOut := 2
	if r.HalfPixel {
		minOut = 1
	}
	if r.InputWidth == 0 || r.InputHeight == 0 || r.OutputWidth < minOut ||
		r.OutputHeight < minOut || r.Depth == 0 {
		panic("tensor dimension out of range")
	}
	if r.InputWidth*r.InputHeight*r.Depth*batchSize != in.Output().Len() {
		panic("incorrect input size")
	}

	r.mappingLock.Lock()
	if r.neighborMap == nil {
		r.initializeMapping(in.Output().Creator())
	}
	r.mappingLock.Unlock()

	mapped := batchMap(r.neighborMap, in.Output())
	anyvec.ScaleRepeated(mapped, r.neighborWeights)
	out := anyvec.SumCols(mapped, mapped.Len()/4)

	return &resizeRes{
		Layer: r,
		In:    in,
		Out:   out,
		Batch: batchSize,
	}
}

// SerializerType returns the unique ID used to serialize
// a Resize with the serializer package.
func (r *Resize) SerializerType() string {
	return "github.com/unixpickle/anysde/anyconv.Resize"
}

// Serialize serializes the Resize.
func (r *Resize) Serialize() ([]byte, error) {
	var halfPixel serializer.Int
	if r.HalfPixel {
		halfPixel = 1
	}
	return serializer.SerializeAny(
		serializer.Int(r.Depth),
		serializer.Int(r.InputWidth),
		serializer.Int(r.InputHeight),
		serializer.Int(r.OutputWidth),
		serializer.Int(r.OutputHeight),
		halfPixel,
	)
}

// axisTap interpolates one output coordinate from two
// input coordinates along a single axis.
type axisTap struct {
	Lo, Hi int

	// LoWeight is the weight of Lo; Hi gets the rest.
	LoWeight float64
}

func (r *Resize) axisTaps(inSize, outSize int) []axisTap {
	taps := make([]axisTap, outSize)
	for i := range taps {
		var s float64
		if r.HalfPixel {
			s = math.Max(0, (float64(i)+0.5)*float64(inSize)/float64(outSize)-0.5)
		} else {
			s = float64(i) * float64(inSize-1) / float64(outSize-1)
		}
		s = math.Min(s, float64(inSize-1))
		lo := int(s)
		taps[i] = axisTap{
			Lo:       lo,
			Hi:       min(lo+1, inSize-1),
			LoWeight: 1 - (s - float64(lo)),
		}
	}
	return taps
}

// initializeMapping creates a mapper producing the four
// bilinear neighbors of every output component, along with
// their weights.
func (r *Resize) initializeMapping(c anyvec.Creator) {
	xTaps := r.axisTaps(r.InputWidth, r.OutputWidth)
	yTaps := r.axisTaps(r.InputHeight, r.OutputHeight)
	var sources []int
	var weights []float64
	for _, ty := range yTaps {
		for _, tx := range xTaps {
			corners := [4]int{
				tx.Lo + ty.Lo*r.InputWidth,
				tx.Hi + ty.Lo*r.InputWidth,
				tx.Lo + ty.Hi*r.InputWidth,
				tx.Hi + ty.Hi*r.InputWidth,
			}
			cornerWeights := []float64{
				tx.LoWeight * ty.LoWeight,
				(1 - tx.LoWeight) * ty.LoWeight,
				tx.LoWeight * (1 - ty.LoWeight),
				(1 - tx.LoWeight) * (1 - ty.LoWeight),
			}
			for z := 0; z < r.Depth; z++ {
				for _, pixel := range corners {
					sources = append(sources, pixel*r.Depth+z)
				}
				weights = append(weights, cornerWeights...)
			}
		}
	}
	r.neighborMap = c.MakeMapper(r.InputWidth*r.InputHeight*r.Depth, sources)
	r.neighborWeights = c.MakeVectorData(c.MakeNumericList(weights))
}

type resizeRes struct {
	Layer *Resize
	In    anydiff.Res
	Out   anyvec.Vector
	Batch int
}

func (r *resizeRes) Output() anyvec.Vector {
	return r.Out
}

func (r *resizeRes) Vars() anydiff.VarSet {
	return r.In.Vars()
}

func (r *resizeRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	repSize := r.Layer.neighborWeights.Len() * r.Batch
	mappedDown := r.Layer.neighborWeights.Creator().MakeVector(repSize)
	anyvec.AddRepeated(mappedDown, r.Layer.neighborWeights)
	anyvec.ScaleChunks(mappedDown, u)
	down := batchMapTranspose(r.Layer.neighborMap, mappedDown)
	r.In.Propagate(down, g)
}
