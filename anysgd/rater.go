package anysgd

import "math"

// A ConstRater is a Rater which always returns the same
// constant learning rate.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(epoch float64) float64 {
	return float64(c)
}

// A MultiStepRater decays a learning rate by a constant
// factor every time the epoch count passes a milestone.
//
// During epoch e (counting from 0), the rate is
//
//     Initial * Gamma^k
//
// where k is the number of milestones less than or equal
// to floor(e).
type MultiStepRater struct {
	Initial    float64
	Milestones []int
	Gamma      float64
}

// Rate computes the learning rate for the epoch.
func (m *MultiStepRater) Rate(epoch float64) float64 {
	completed := math.Floor(epoch)
	var passed int
	for _, milestone := range m.Milestones {
		if float64(milestone) <= completed {
			passed++
		}
	}
	return m.Initial * math.Pow(m.Gamma, float64(passed))
}
