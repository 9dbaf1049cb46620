// Package anyrun trains and evaluates one anomaly
// detection model per category.
package anyrun

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anysde"
	"github.com/unixpickle/anysde/anymvtec"
	"github.com/unixpickle/anysde/anyroc"
	"github.com/unixpickle/anysde/anyscore"
	"github.com/unixpickle/anysde/anyscorenet"
	"github.com/unixpickle/anysde/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// ImageDepth is the channel count of loaded images.
const ImageDepth = 3

const (
	modelDir   = "models"
	resultsDir = "results"
	modelExt   = ".anysde"
)

// A Runner trains and evaluates a model for a single
// category.
type Runner struct {
	Config   *Config
	Category string
	Creator  anyvec.Creator

	// Logger receives progress messages.
	// If nil, the standard logrus logger is used.
	Logger *logrus.Logger

	// Rand is used for initialization, shuffling, noise,
	// and scoring.
	// If nil, the global math/rand source is used.
	Rand *rand.Rand

	// Model, if non-nil, is trained instead of a freshly
	// initialized network.
	Model *anyscorenet.ScoreNet
}

// A Result summarizes a finished run.
type Result struct {
	Category string
	RunID    string

	// EpochLosses stores the mean training loss of every
	// epoch.
	EpochLosses []float64

	Evaluation *anyscore.Evaluation

	// ImageAUROC and PixelAUROC are NaN when they could
	// not be computed.
	ImageAUROC float64
	PixelAUROC float64

	ModelPath   string
	ResultsPath string
}

// ModelPath returns the path where a category's model is
// saved.
func ModelPath(saveRoot, category string) string {
	return filepath.Join(saveRoot, modelDir, category+modelExt)
}

// LoadModel loads a model saved by a previous run.
func LoadModel(path string) (*anyscorenet.ScoreNet, error) {
	var net *anyscorenet.ScoreNet
	if err := serializer.LoadAny(path, &net); err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	return net, nil
}

// Run loads the category's data from Config.DataRoot and
// calls RunSamples.
func (r *Runner) Run() (*Result, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	train, err := anymvtec.LoadTrain(r.Creator, r.Config.DataRoot, r.Category,
		r.Config.ImageSize)
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	test, err := anymvtec.LoadTest(r.Creator, r.Config.DataRoot, r.Category,
		r.Config.ImageSize, r.Config.HeatmapSize)
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	return r.RunSamples(train, test)
}

// RunSamples trains on the training samples, evaluates the
// averaged model on the test samples, and saves the model
// and per-image results under Config.SaveRoot.
//
// The saved model holds the live parameters, not the
// averaged ones.
func (r *Runner) RunSamples(train, test anysde.SampleList) (*Result, error) {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	res := &Result{
		Category:   r.Category,
		RunID:      uuid.New().String(),
		ImageAUROC: math.NaN(),
		PixelAUROC: math.NaN(),
	}
	log := r.logger().WithFields(logrus.Fields{
		"category": r.Category,
		"run":      res.RunID,
	})

	sched, err := anysde.NewVESchedule(cfg.Sigma)
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	net, err := r.model(sched)
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	params := net.Parameters()
	ema, err := anysgd.NewEMA(params, cfg.EMADecay)
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	ema.WarmUp = cfg.EMAWarmUp

	trainer := &anysde.Trainer{
		Schedule:  sched,
		Estimator: net,
		Params:    params,
		Rand:      r.Rand,
		MaxGos:    cfg.Workers,
	}
	rater := &anysgd.MultiStepRater{
		Initial:    cfg.LearningRate,
		Milestones: cfg.Milestones,
		Gamma:      cfg.Gamma,
	}
	var epochLoss anysgd.WeightedMean
	sgd := &anysgd.SGD{
		Fetcher:     trainer,
		Gradienter:  trainer,
		Transformer: &anysgd.Adam{WeightDecay: cfg.WeightDecay},
		Samples:     train,
		Rater:       rater,
		BatchSize:   cfg.BatchSize,
		Rand:        r.Rand,
		AfterStep: func(b anysgd.Batch, size int) {
			ema.Update()
			epochLoss.Add(trainer.LastCost, float64(size))
		},
	}

	log.WithFields(logrus.Fields{
		"train":  train.Len(),
		"test":   test.Len(),
		"epochs": cfg.Epochs,
	}).Info("starting training")
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		epochLoss.Reset()
		rate := rater.Rate(float64(epoch))
		if err := sgd.Epoch(); err != nil {
			return nil, essentials.AddCtx("run "+r.Category, err)
		}
		res.EpochLosses = append(res.EpochLosses, epochLoss.Mean())
		log.WithFields(logrus.Fields{
			"epoch": epoch,
			"loss":  epochLoss.Mean(),
			"rate":  rate,
		}).Info("epoch complete")
	}

	scorer := &anyscore.Scorer{
		Schedule:   sched,
		Estimator:  net,
		Time:       cfg.ScoreTime,
		Iterations: cfg.ScoreIterations,
		Rand:       r.Rand,
	}
	maker := &anyscore.HeatmapMaker{
		InputWidth:  cfg.ImageSize,
		InputHeight: cfg.ImageSize,
		OutputSize:  cfg.HeatmapSize,
		PoolSpan:    cfg.PoolSpan,
	}
	err = ema.Average(func() error {
		var err error
		res.Evaluation, err = scorer.Evaluate(maker, trainer, test, cfg.BatchSize)
		return err
	})
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	r.computeMetrics(log, res)

	res.ModelPath = ModelPath(cfg.SaveRoot, r.Category)
	if err := os.MkdirAll(filepath.Dir(res.ModelPath), 0755); err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	if err := serializer.SaveAny(res.ModelPath, net); err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	res.ResultsPath, err = writeResults(cfg, r.Category, res.Evaluation)
	if err != nil {
		return nil, essentials.AddCtx("run "+r.Category, err)
	}
	log.WithFields(logrus.Fields{
		"model":   res.ModelPath,
		"results": res.ResultsPath,
	}).Info("saved run outputs")
	return res, nil
}

func (r *Runner) logger() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}

func (r *Runner) model(sched *anysde.VESchedule) (*anyscorenet.ScoreNet, error) {
	if r.Model != nil {
		return r.Model, nil
	}
	netCfg := r.Config.netConfig()
	if r.Config.BodyMarkup != "" {
		return anyscorenet.NewFromMarkup(r.Creator, sched, netCfg, r.Config.BodyMarkup, r.Rand)
	}
	return anyscorenet.New(r.Creator, sched, netCfg, r.Rand)
}

// computeMetrics fills in the AUROC fields.
// Failures only produce warnings.
func (r *Runner) computeMetrics(log *logrus.Entry, res *Result) {
	eval := res.Evaluation
	if auc, err := anyroc.ImageAUROC(eval.Scores, eval.Labels); err != nil {
		log.WithError(err).Warn("cannot compute image AUROC")
	} else {
		res.ImageAUROC = auc
	}
	if auc, err := anyroc.PixelAUROC(eval.Heatmaps, eval.Masks); err != nil {
		log.WithError(err).Warn("cannot compute pixel AUROC")
	} else {
		res.PixelAUROC = auc
	}
	log.WithFields(logrus.Fields{
		"image_auroc": res.ImageAUROC,
		"pixel_auroc": res.PixelAUROC,
	}).Info("evaluation complete")
}
