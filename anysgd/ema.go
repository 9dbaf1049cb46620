package anysgd

import (
	"errors"
	"math"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

var (
	ErrInvalidDecay   = errors.New("EMA decay must be in (0, 1)")
	ErrShadowActive   = errors.New("EMA shadow parameters are already swapped in")
	ErrShadowMismatch = errors.New("EMA shadow parameters do not match live parameters")
)

// EMA maintains an exponential moving average (a
// "shadow") of a list of parameters.
//
// After every optimizer step, Update moves each shadow
// vector towards its parameter:
//
//     shadow = decay*shadow + (1-decay)*param
//
// The shadow is only ever used through Average, which
// swaps it into the live parameters for the duration of
// a function call.
type EMA struct {
	// WarmUp, if set, uses the smaller decay
	// (1+n)/(10+n) while it is below the configured
	// decay, where n counts updates including the
	// current one.
	WarmUp bool

	decay      float64
	params     []*anydiff.Var
	shadow     []anyvec.Vector
	numUpdates int

	// active is held while the shadow is swapped in.
	active sync.Mutex
}

// NewEMA creates an EMA whose shadow starts out as a copy
// of the parameters.
func NewEMA(params []*anydiff.Var, decay float64) (*EMA, error) {
	if math.IsNaN(decay) || decay <= 0 || decay >= 1 {
		return nil, ErrInvalidDecay
	}
	res := &EMA{decay: decay, params: params}
	for _, p := range params {
		res.shadow = append(res.shadow, p.Vector.Copy())
	}
	return res, nil
}

// Decay returns the configured decay rate.
func (e *EMA) Decay() float64 {
	return e.decay
}

// NumUpdates returns the number of times Update has been
// called.
func (e *EMA) NumUpdates() int {
	return e.numUpdates
}

// Update moves the shadow towards the current parameters.
//
// It should be called after every optimizer step.
// Calling Update from inside Average panics, since the
// live parameters hold the shadow at that time.
func (e *EMA) Update() {
	if !e.active.TryLock() {
		panic("cannot update EMA while shadow parameters are swapped in")
	}
	defer e.active.Unlock()
	if err := e.check(e.shadow); err != nil {
		panic(err)
	}

	e.numUpdates++
	decay := e.currentDecay()
	for i, p := range e.params {
		s := e.shadow[i]
		s.Scale(s.Creator().MakeNumeric(decay))
		keep := p.Vector.Copy()
		keep.Scale(keep.Creator().MakeNumeric(1 - decay))
		s.Add(keep)
	}
}

// Average swaps the shadow into the live parameters,
// calls f, and then restores the live parameters.
//
// The live parameters are restored on every exit path,
// including when f panics.
// Average is not reentrant: nested or concurrent calls
// fail with ErrShadowActive.
func (e *EMA) Average(f func() error) error {
	if !e.active.TryLock() {
		return ErrShadowActive
	}
	defer e.active.Unlock()
	if err := e.check(e.shadow); err != nil {
		return err
	}

	backup := make([]anyvec.Vector, len(e.params))
	for i, p := range e.params {
		backup[i] = p.Vector.Copy()
		p.Vector.Set(e.shadow[i])
	}
	defer func() {
		for i, p := range e.params {
			p.Vector.Set(backup[i])
		}
	}()

	return f()
}

// Shadow returns copies of the shadow vectors, in the
// same order as the parameters.
func (e *EMA) Shadow() []anyvec.Vector {
	res := make([]anyvec.Vector, len(e.shadow))
	for i, s := range e.shadow {
		res[i] = s.Copy()
	}
	return res
}

// LoadShadow replaces the shadow with copies of vecs.
//
// The vectors must correspond one-to-one with the
// parameters, or ErrShadowMismatch is returned.
func (e *EMA) LoadShadow(vecs []anyvec.Vector) error {
	if err := e.check(vecs); err != nil {
		return err
	}
	for i, v := range vecs {
		e.shadow[i] = v.Copy()
	}
	return nil
}

func (e *EMA) currentDecay() float64 {
	if !e.WarmUp {
		return e.decay
	}
	n := float64(e.numUpdates)
	return math.Min(e.decay, (1+n)/(10+n))
}

func (e *EMA) check(vecs []anyvec.Vector) error {
	if len(vecs) != len(e.params) {
		return ErrShadowMismatch
	}
	for i, p := range e.params {
		if vecs[i].Len() != p.Vector.Len() || vecs[i].Creator() != p.Vector.Creator() {
			return ErrShadowMismatch
		}
	}
	return nil
}
