// Package anyscorenet implements a time-conditioned
// convolutional score network.
//
// The network is one possible anysde.ScoreEstimator.
// Training and scoring code never depend on its
// architecture, so it can be swapped for any other
// estimator.
package anyscorenet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anyconv"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var s ScoreNet
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeScoreNet)
}

// FourierScale is the standard deviation of the random
// time embedding frequencies.
const FourierScale = 30

// Config describes the shape of a ScoreNet.
type Config struct {
	Width  int
	Height int
	Depth  int

	// Hidden is the number of feature channels.
	Hidden int

	// Blocks is the number of residual blocks.
	Blocks int

	// EmbedSize is the size of the time embedding.
	// It must be even.
	EmbedSize int
}

// Validate checks that every dimension is usable.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Depth <= 0 {
		return errors.New("image dimensions must be positive")
	}
	if c.Hidden <= 0 || c.Blocks < 0 {
		return errors.New("invalid hidden size or block count")
	}
	if c.EmbedSize <= 0 || c.EmbedSize%2 != 0 {
		return errors.New("time embedding size must be positive and even")
	}
	return nil
}

// ScoreNet is a residual convolutional network conditioned
// on the diffusion time.
//
// The time is embedded with random Fourier features and
// projected onto the hidden channels, where it is added
// after the first convolution.
// The raw output is divided by the marginal standard
// deviation at each sample's time, matching the scale of
// the true perturbation score.
type ScoreNet struct {
	Schedule *anysde.VESchedule

	Width  int
	Height int
	Depth  int

	// Frequencies holds the fixed (untrained) Fourier
	// frequencies, one per sin/cos pair.
	Frequencies anyvec.Vector

	// Embed projects time features onto hidden channels.
	Embed *anysde.FC

	// Input maps images to hidden features.
	Input anysde.Net

	// Body maps time-conditioned hidden features to a
	// score tensor with the same shape as the input.
	Body anysde.Net
}

// New creates a randomly initialized ScoreNet.
//
// If r is nil, the global math/rand source is used.
func New(c anyvec.Creator, sched *anysde.VESchedule, cfg Config, r *rand.Rand) (*ScoreNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("create score network", err)
	}
	if err := sched.Validate(); err != nil {
		return nil, essentials.AddCtx("create score network", err)
	}

	body := anysde.Net{}
	for i := 0; i < cfg.Blocks; i++ {
		body = append(body, &anyconv.Residual{
			Body: anysde.Net{
				anysde.Swish,
				samePadding(cfg.Width, cfg.Height, cfg.Hidden),
				anyconv.NewConv(c, cfg.Width+2, cfg.Height+2, cfg.Hidden, cfg.Hidden, 3, r),
				anysde.Swish,
				samePadding(cfg.Width, cfg.Height, cfg.Hidden),
				anyconv.NewConv(c, cfg.Width+2, cfg.Height+2, cfg.Hidden, cfg.Hidden, 3, r),
			},
		})
	}
	body = append(body,
		anysde.Swish,
		samePadding(cfg.Width, cfg.Height, cfg.Hidden),
		anyconv.NewConv(c, cfg.Width+2, cfg.Height+2, cfg.Hidden, cfg.Depth, 3, r),
	)

	return newWithBody(c, sched, cfg, body, r), nil
}

// NewFromMarkup is like New, but the body of the network
// is described by convmarkup code.
//
// The markup must take a Width x Height x Hidden input and
// produce a Width x Height x Depth output.
// The Blocks field of the Config is ignored.
func NewFromMarkup(c anyvec.Creator, sched *anysde.VESchedule, cfg Config, markup string,
	r *rand.Rand) (*ScoreNet, error) {
	cfg.Blocks = 0
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("create score network", err)
	}
	if err := sched.Validate(); err != nil {
		return nil, essentials.AddCtx("create score network", err)
	}
	layer, err := anyconv.FromMarkup(c, markup, r)
	if err != nil {
		return nil, essentials.AddCtx("create score network", err)
	}
	body, ok := layer.(anysde.Net)
	if !ok {
		body = anysde.Net{layer}
	}
	if err := checkBody(c, cfg, body); err != nil {
		return nil, essentials.AddCtx("create score network", err)
	}
	return newWithBody(c, sched, cfg, body, r), nil
}

// checkBody runs the body on one zero-valued input to make
// sure it maps Width x Height x Hidden to Width x Height x Depth.
func checkBody(c anyvec.Creator, cfg Config, body anysde.Net) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("body rejects %dx%dx%d input: %v", cfg.Width, cfg.Height,
				cfg.Hidden, r)
		}
	}()
	in := c.MakeVector(cfg.Width * cfg.Height * cfg.Hidden)
	out := body.Eval(in, 1)
	if expected := cfg.Width * cfg.Height * cfg.Depth; out.Len() != expected {
		return fmt.Errorf("body output has %d components (expected %d)", out.Len(), expected)
	}
	return nil
}

func newWithBody(c anyvec.Creator, sched *anysde.VESchedule, cfg Config, body anysde.Net,
	r *rand.Rand) *ScoreNet {
	freqs := c.MakeVector(cfg.EmbedSize / 2)
	anyvec.Rand(freqs, anyvec.Normal, r)
	freqs.Scale(c.MakeNumeric(FourierScale))
	return &ScoreNet{
		Schedule:    sched,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Depth:       cfg.Depth,
		Frequencies: freqs,
		Embed:       anysde.NewFC(c, cfg.EmbedSize, cfg.Hidden, r),
		Input: anysde.Net{
			samePadding(cfg.Width, cfg.Height, cfg.Depth),
			anyconv.NewConv(c, cfg.Width+2, cfg.Height+2, cfg.Depth, cfg.Hidden, 3, r),
		},
		Body: body,
	}
}

// DeserializeScoreNet deserializes a ScoreNet.
func DeserializeScoreNet(d []byte) (*ScoreNet, error) {
	var sigma serializer.Float64
	var width, height, depth serializer.Int
	var freqs *anyvecsave.S
	var embed *anysde.FC
	var input, body anysde.Net
	err := serializer.DeserializeAny(d, &sigma, &width, &height, &depth, &freqs, &embed,
		&input, &body)
	if err != nil {
		return nil, essentials.AddCtx("deserialize ScoreNet", err)
	}
	sched, err := anysde.NewVESchedule(float64(sigma))
	if err != nil {
		return nil, essentials.AddCtx("deserialize ScoreNet", err)
	}
	if embed.InCount != 2*freqs.Vector.Len() {
		return nil, errors.New("deserialize ScoreNet: time embedding size mismatch")
	}
	return &ScoreNet{
		Schedule:    sched,
		Width:       int(width),
		Height:      int(height),
		Depth:       int(depth),
		Frequencies: freqs.Vector,
		Embed:       embed,
		Input:       input,
		Body:        body,
	}, nil
}

// Score estimates the score for a batch of perturbed
// images.
func (s *ScoreNet) Score(in anydiff.Res, times []float64, n int) anydiff.Res {
	imgSize := s.Width * s.Height * s.Depth
	if len(times) != n {
		panic(fmt.Sprintf("expected %d times but got %d", n, len(times)))
	}
	if in.Output().Len() != n*imgSize {
		panic("incorrect input size")
	}
	c := in.Output().Creator()

	features := s.Input.Apply(in, n)
	timeBias := s.Embed.Apply(anydiff.NewConst(s.timeFeatures(c, times)), n)
	conditioned := addPerSample(features, timeBias, n)
	out := s.Body.Apply(conditioned, n)

	invStds := make([]float64, n)
	for i, t := range times {
		invStds[i] = 1 / s.Schedule.MarginalStd(t)
	}
	return anydiff.Mul(out, anydiff.NewConst(anysde.RepeatChunks(c, invStds, imgSize)))
}

// Parameters returns the parameters of the input layers,
// the time embedding, and the body, in that order.
func (s *ScoreNet) Parameters() []*anydiff.Var {
	res := s.Input.Parameters()
	res = append(res, s.Embed.Parameters()...)
	return append(res, s.Body.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a ScoreNet with the serializer package.
func (s *ScoreNet) SerializerType() string {
	return "github.com/unixpickle/anysde/anyscorenet.ScoreNet"
}

// Serialize serializes the network.
func (s *ScoreNet) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Float64(s.Schedule.Sigma),
		serializer.Int(s.Width),
		serializer.Int(s.Height),
		serializer.Int(s.Depth),
		&anyvecsave.S{Vector: s.Frequencies},
		s.Embed,
		s.Input,
		s.Body,
	)
}

// timeFeatures computes [sin(2*pi*w*t), cos(2*pi*w*t)] for
// every time, packed into a batch of row vectors.
func (s *ScoreNet) timeFeatures(c anyvec.Creator, times []float64) anyvec.Vector {
	freqs := anysde.Floats(s.Frequencies)
	res := make([]float64, 0, len(times)*len(freqs)*2)
	for _, t := range times {
		for _, w := range freqs {
			res = append(res, math.Sin(2*math.Pi*w*t))
		}
		for _, w := range freqs {
			res = append(res, math.Cos(2*math.Pi*w*t))
		}
	}
	return c.MakeVectorData(c.MakeNumericList(res))
}

// addPerSample adds the i-th row of biases to every pixel
// of the i-th tensor in a depth-minor batch.
func addPerSample(tensors, biases anydiff.Res, n int) anydiff.Res {
	tensorSize := tensors.Output().Len() / n
	biasSize := biases.Output().Len() / n
	return anydiff.Pool(tensors, func(tensors anydiff.Res) anydiff.Res {
		return anydiff.Pool(biases, func(biases anydiff.Res) anydiff.Res {
			parts := make([]anydiff.Res, n)
			for i := range parts {
				parts[i] = anydiff.AddRepeated(
					anydiff.Slice(tensors, i*tensorSize, (i+1)*tensorSize),
					anydiff.Slice(biases, i*biasSize, (i+1)*biasSize),
				)
			}
			return anydiff.Concat(parts...)
		})
	})
}

func samePadding(width, height, depth int) *anyconv.Padding {
	return anyconv.NewBorder(width, height, depth, 1)
}
