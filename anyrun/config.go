package anyrun

import (
	"errors"
	"math"

	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anyscore"
	"github.com/unixpickle/anysde/anyscorenet"
)

// Config stores the settings for training and evaluating
// one category.
type Config struct {
	DataRoot string
	SaveRoot string

	Epochs       int
	LearningRate float64
	WeightDecay  float64
	Milestones   []int
	Gamma        float64
	BatchSize    int

	// Workers is the number of goroutines used to load
	// images.
	Workers int

	Sigma     float64
	EMADecay  float64
	EMAWarmUp bool

	ScoreTime       float64
	ScoreIterations int

	ImageSize   int
	HeatmapSize int
	PoolSpan    int

	Hidden    int
	Blocks    int
	EmbedSize int

	// BodyMarkup, if non-empty, describes the body of the
	// score network in convmarkup format.
	BodyMarkup string

	// SaveHeatmaps enables PNG renderings of every test
	// heatmap.
	SaveHeatmaps bool
}

// DefaultConfig creates a Config with the standard
// hyperparameters.
// The DataRoot must still be filled in.
func DefaultConfig() *Config {
	return &Config{
		SaveRoot:        ".",
		Epochs:          3000,
		LearningRate:    1e-4,
		WeightDecay:     1e-3,
		Milestones:      []int{1000, 2000},
		Gamma:           0.1,
		BatchSize:       16,
		Workers:         4,
		Sigma:           25,
		EMADecay:        0.9999,
		ScoreTime:       anyscore.DefaultTime,
		ScoreIterations: anyscore.DefaultIterations,
		ImageSize:       64,
		HeatmapSize:     anyscore.DefaultHeatmapSize,
		PoolSpan:        anyscore.DefaultPoolSpan,
		Hidden:          32,
		Blocks:          2,
		EmbedSize:       32,
	}
}

// Validate checks the configuration before any training
// starts.
func (c *Config) Validate() error {
	if c.SaveRoot == "" {
		return errors.New("save root must not be empty")
	}
	if c.Epochs < 0 {
		return errors.New("epoch count must not be negative")
	}
	if !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0) {
		return errors.New("learning rate must be positive")
	}
	if c.WeightDecay < 0 || !(c.Gamma > 0) {
		return errors.New("weight decay must be non-negative and gamma positive")
	}
	for i, m := range c.Milestones {
		if m < 0 || (i > 0 && m <= c.Milestones[i-1]) {
			return errors.New("milestones must be non-negative and increasing")
		}
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.Workers < 0 {
		return errors.New("worker count must not be negative")
	}
	if _, err := anysde.NewVESchedule(c.Sigma); err != nil {
		return err
	}
	if math.IsNaN(c.EMADecay) || c.EMADecay <= 0 || c.EMADecay >= 1 {
		return errors.New("EMA decay must be in (0, 1)")
	}
	scorer := &anyscore.Scorer{
		Schedule:   &anysde.VESchedule{Sigma: c.Sigma},
		Time:       c.ScoreTime,
		Iterations: c.ScoreIterations,
	}
	if err := scorer.Validate(); err != nil {
		return err
	}
	if c.HeatmapSize <= 0 || c.PoolSpan <= 0 || c.PoolSpan%2 == 0 {
		return errors.New("heatmap size must be positive and pool span positive and odd")
	}
	return c.netConfig().Validate()
}

func (c *Config) netConfig() anyscorenet.Config {
	return anyscorenet.Config{
		Width:     c.ImageSize,
		Height:    c.ImageSize,
		Depth:     ImageDepth,
		Hidden:    c.Hidden,
		Blocks:    c.Blocks,
		EmbedSize: c.EmbedSize,
	}
}
