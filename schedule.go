package anysde

import (
	"errors"
	"math"
)

// MinTime is the smallest time value used when sampling
// training times.
// The marginal standard deviation vanishes at t=0, so
// times are kept away from it.
const MinTime = 1e-5

// ErrInvalidSigma is returned when a schedule parameter
// does not exceed 1.
var ErrInvalidSigma = errors.New("schedule sigma must be finite and greater than 1")

// VESchedule is the noise schedule of a
// variance-exploding SDE
//
//     dx = Sigma^t dw,  t in [0, 1].
//
// The perturbation kernel of this SDE is a Gaussian
// centered at the clean sample with standard deviation
// MarginalStd(t).
type VESchedule struct {
	Sigma float64
}

// NewVESchedule creates a schedule, failing if sigma is
// not a valid schedule parameter.
func NewVESchedule(sigma float64) (*VESchedule, error) {
	v := &VESchedule{Sigma: sigma}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate checks that the schedule is well-defined.
func (v *VESchedule) Validate() error {
	if math.IsNaN(v.Sigma) || math.IsInf(v.Sigma, 0) || v.Sigma <= 1 {
		return ErrInvalidSigma
	}
	return nil
}

// MarginalStd computes the standard deviation of the
// perturbation kernel at time t:
//
//     sqrt((Sigma^(2t) - 1) / (2 ln Sigma))
func (v *VESchedule) MarginalStd(t float64) float64 {
	logSigma := math.Log(v.Sigma)
	// Expm1 keeps precision for tiny t, where Sigma^(2t)
	// is very close to 1.
	return math.Sqrt(math.Expm1(2*t*logSigma) / (2 * logSigma))
}

// DiffusionCoeff computes the diffusion coefficient
// Sigma^t.
func (v *VESchedule) DiffusionCoeff(t float64) float64 {
	return math.Pow(v.Sigma, t)
}

// MarginalStds applies MarginalStd to every time value.
func (v *VESchedule) MarginalStds(ts []float64) []float64 {
	res := make([]float64, len(ts))
	for i, t := range ts {
		res[i] = v.MarginalStd(t)
	}
	return res
}

// DiffusionCoeffs applies DiffusionCoeff to every time
// value.
func (v *VESchedule) DiffusionCoeffs(ts []float64) []float64 {
	res := make([]float64, len(ts))
	for i, t := range ts {
		res[i] = v.DiffusionCoeff(t)
	}
	return res
}
