package anyconv

import (
	"runtime"
	"sync"

	"github.com/unixpickle/anyvec"
)

// batchMap applies a mapper to every tensor in a packed
// batch.
func batchMap(m anyvec.Mapper, in anyvec.Vector) anyvec.Vector {
	n := in.Len() / m.InSize()
	if n*m.InSize() != in.Len() {
		panic("mapper input size must divide batch size")
	}
	c := in.Creator()
	if n == 1 {
		out := c.MakeVector(m.OutSize())
		m.Map(in, out)
		return out
	}
	outs := make([]anyvec.Vector, n)
	for i := range outs {
		outs[i] = c.MakeVector(m.OutSize())
		m.Map(in.Slice(i*m.InSize(), (i+1)*m.InSize()), outs[i])
	}
	return c.Concat(outs...)
}

// batchMapTranspose applies a mapper's transpose to every
// tensor in a packed batch.
func batchMapTranspose(m anyvec.Mapper, in anyvec.Vector) anyvec.Vector {
	n := in.Len() / m.OutSize()
	if n*m.OutSize() != in.Len() {
		panic("mapper output size must divide batch size")
	}
	c := in.Creator()
	if n == 1 {
		out := c.MakeVector(m.InSize())
		m.MapTranspose(in, out)
		return out
	}
	outs := make([]anyvec.Vector, n)
	for i := range outs {
		outs[i] = c.MakeVector(m.InSize())
		m.MapTranspose(in.Slice(i*m.OutSize(), (i+1)*m.OutSize()), outs[i])
	}
	return c.Concat(outs...)
}

// repeatEach repeats every component of v count times in
// a row.
func repeatEach(v anyvec.Vector, count int) anyvec.Vector {
	res := v.Creator().MakeVector(v.Len() * count)
	res.AddScalar(v.Creator().MakeNumeric(1))
	anyvec.ScaleChunks(res, v)
	return res
}

// forEachImage calls f for every index in [0, n),
// spreading the calls over GOMAXPROCS goroutines.
func forEachImage(n int, f func(i int)) {
	if n == 1 {
		f(0)
		return
	}
	indices := make(chan int, n)
	for i := 0; i < n; i++ {
		indices <- i
	}
	close(indices)

	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0) && i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				f(idx)
			}
		}()
	}
	wg.Wait()
}
