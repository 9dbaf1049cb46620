package anysgd

// A WeightedMean accumulates a weighted average of
// values, such as per-batch losses weighted by batch
// size.
//
// The zero value is an empty average.
type WeightedMean struct {
	total  float64
	weight float64
}

// Add adds a value with the given weight.
func (w *WeightedMean) Add(value, weight float64) {
	w.total += value * weight
	w.weight += weight
}

// Weight returns the total weight added so far.
func (w *WeightedMean) Weight() float64 {
	return w.weight
}

// Mean returns the weighted average.
// If no weight has been added, it returns 0.
func (w *WeightedMean) Mean() float64 {
	if w.weight == 0 {
		return 0
	}
	return w.total / w.weight
}

// Reset clears the average.
func (w *WeightedMean) Reset() {
	*w = WeightedMean{}
}
