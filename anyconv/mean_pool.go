package anyconv

import (
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m MeanPool
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeMeanPool)
}

// MeanPool is a mean-pooling layer.
//
// Windows of SpanX by SpanY are slid over the input with
// the given strides.
// A stride of 0 defaults to the corresponding span, giving
// non-overlapping windows.
// Windows which do not fit entirely inside the input are
// dropped; use a Padding layer first to pool across the
// borders, in which case the padded zeros count towards
// every mean.
//
// All input and output tensors are row-major depth-minor.
type MeanPool struct {
	SpanX int
	SpanY int

	StrideX int
	StrideY int

	InputWidth  int
	InputHeight int
	InputDepth  int

	mapperLock sync.Mutex
	rowMapper  anyvec.Mapper
	colMapper  anyvec.Mapper
}

// DeserializeMeanPool deserializes a MeanPool.
func DeserializeMeanPool(d []byte) (*MeanPool, error) {
	var sX, sY, strX, strY, inW, inH, inD serializer.Int
	err := serializer.DeserializeAny(d, &sX, &sY, &strX, &strY, &inW, &inH, &inD)
	if err != nil {
		return nil, essentials.AddCtx("deserialize MeanPool", err)
	}
	return &MeanPool{
		SpanX:       int(sX),
		SpanY:       int(sY),
		StrideX:     int(strX),
		StrideY:     int(strY),
		InputWidth:  int(inW),
		InputHeight: int(inH),
		InputDepth:  int(inD),
	}, nil
}

// OutputWidth returns the output tensor width.
func (m *MeanPool) OutputWidth() int {
	return numWindows(m.InputWidth, m.SpanX, m.strideX())
}

// OutputHeight returns the output tensor height.
func (m *MeanPool) OutputHeight() int {
	return numWindows(m.InputHeight, m.SpanY, m.strideY())
}

// OutputDepth returns the depth of the output tensor.
func (m *MeanPool) OutputDepth() int {
	return m.InputDepth
}

// Apply applies the pooling layer.
//
// Pooling is computed separably: windows are first
// summed along rows, then along columns.
func (m *MeanPool) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if m.SpanX <= 0 || m.SpanY <= 0 || m.OutputWidth() == 0 || m.OutputHeight() == 0 {
		panic("pooling window out of range")
	}
	if in.Output().Len() != batchSize*m.InputWidth*m.InputHeight*m.InputDepth {
		panic("incorrect input size")
	}
	if batchSize == 0 {
		return anydiff.NewConst(in.Output().Creator().MakeVector(0))
	}

	m.mapperLock.Lock()
	if m.rowMapper == nil {
		m.initMappers(in.Output().Creator())
	}
	m.mapperLock.Unlock()

	rowSums := batchMap(m.rowMapper, in.Output())
	rowSums = anyvec.SumCols(rowSums, rowSums.Len()/m.SpanX)
	out := batchMap(m.colMapper, rowSums)
	out = anyvec.SumCols(out, out.Len()/m.SpanY)

	scaler := out.Creator().MakeNumeric(1 / float64(m.SpanX*m.SpanY))
	out.Scale(scaler)

	return &meanPoolRes{
		Layer:  m,
		In:     in,
		Scaler: scaler,
		OutVec: out,
	}
}

// SerializerType returns the unique ID used to serialize
// a MeanPool with the serializer package.
func (m *MeanPool) SerializerType() string {
	return "github.com/unixpickle/anysde/anyconv.MeanPool"
}

// Serialize serializes the layer.
func (m *MeanPool) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(m.SpanX),
		serializer.Int(m.SpanY),
		serializer.Int(m.StrideX),
		serializer.Int(m.StrideY),
		serializer.Int(m.InputWidth),
		serializer.Int(m.InputHeight),
		serializer.Int(m.InputDepth),
	)
}

func (m *MeanPool) strideX() int {
	if m.StrideX == 0 {
		return m.SpanX
	}
	return m.StrideX
}

func (m *MeanPool) strideY() int {
	if m.StrideY == 0 {
		return m.SpanY
	}
	return m.StrideY
}

// initMappers creates two mappers.
//
// The row mapper turns an input tensor into a matrix with
// one row per (y, outX, z), holding the SpanX inputs of
// the window.
// The column mapper does the same for the row sums, with
// one row per (outY, outX, z).
func (m *MeanPool) initMappers(c anyvec.Creator) {
	outW, outH := m.OutputWidth(), m.OutputHeight()
	depth := m.InputDepth

	rowTable := make([]int, 0, m.InputHeight*outW*depth*m.SpanX)
	for y := 0; y < m.InputHeight; y++ {
		for x := 0; x < outW; x++ {
			startX := x * m.strideX()
			for z := 0; z < depth; z++ {
				for i := 0; i < m.SpanX; i++ {
					rowTable = append(rowTable, ((y*m.InputWidth)+startX+i)*depth+z)
				}
			}
		}
	}
	m.rowMapper = c.MakeMapper(m.InputWidth*m.InputHeight*depth, rowTable)

	colTable := make([]int, 0, outH*outW*depth*m.SpanY)
	for y := 0; y < outH; y++ {
		startY := y * m.strideY()
		for x := 0; x < outW; x++ {
			for z := 0; z < depth; z++ {
				for i := 0; i < m.SpanY; i++ {
					colTable = append(colTable, (((startY+i)*outW)+x)*depth+z)
				}
			}
		}
	}
	m.colMapper = c.MakeMapper(m.InputHeight*outW*depth, colTable)
}

func numWindows(size, span, stride int) int {
	if span > size || stride <= 0 {
		return 0
	}
	return 1 + (size-span)/stride
}

type meanPoolRes struct {
	Layer  *MeanPool
	In     anydiff.Res
	Scaler anyvec.Numeric
	OutVec anyvec.Vector
}

func (m *meanPoolRes) Output() anyvec.Vector {
	return m.OutVec
}

func (m *meanPoolRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *meanPoolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Scale(m.Scaler)
	rowSumsDown := batchMapTranspose(m.Layer.colMapper, repeatEach(u, m.Layer.SpanY))
	down := batchMapTranspose(m.Layer.rowMapper, repeatEach(rowSumsDown, m.Layer.SpanX))
	m.In.Propagate(down, g)
}
