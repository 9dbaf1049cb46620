package main

import (
	"flag"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anysde/anymvtec"
	"github.com/unixpickle/anysde/anyrun"
	"github.com/unixpickle/anyvec/anyvec32"
)

func main() {
	cfg := anyrun.DefaultConfig()
	var category string
	var milestones string
	var seed int64
	var markupPath string
	var verbose bool
	flag.StringVar(&cfg.DataRoot, "data", "", "MVTec AD dataset root")
	flag.StringVar(&cfg.SaveRoot, "save", cfg.SaveRoot, "output directory")
	flag.StringVar(&category, "category", anymvtec.AllCategories, "category name or \"all\"")
	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "training epochs")
	flag.Float64Var(&cfg.LearningRate, "lr", cfg.LearningRate, "initial learning rate")
	flag.Float64Var(&cfg.WeightDecay, "decay", cfg.WeightDecay, "Adam weight decay")
	flag.StringVar(&milestones, "milestones", "1000,2000", "comma-separated epochs to step the learning rate")
	flag.Float64Var(&cfg.Gamma, "gamma", cfg.Gamma, "learning rate multiplier at milestones")
	flag.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "batch size")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "image loading goroutines")
	flag.Float64Var(&cfg.Sigma, "sigma", cfg.Sigma, "VE-SDE sigma")
	flag.Float64Var(&cfg.EMADecay, "ema", cfg.EMADecay, "EMA decay rate")
	flag.BoolVar(&cfg.EMAWarmUp, "emawarmup", false, "warm up the EMA decay")
	flag.Float64Var(&cfg.ScoreTime, "scoretime", cfg.ScoreTime, "diffusion time used for scoring")
	flag.IntVar(&cfg.ScoreIterations, "scoreiters", cfg.ScoreIterations, "noise draws per test batch")
	flag.IntVar(&cfg.ImageSize, "size", cfg.ImageSize, "image side length")
	flag.IntVar(&cfg.HeatmapSize, "heatmap", cfg.HeatmapSize, "heatmap side length")
	flag.IntVar(&cfg.PoolSpan, "pool", cfg.PoolSpan, "heatmap smoothing window")
	flag.IntVar(&cfg.Hidden, "hidden", cfg.Hidden, "hidden channels")
	flag.IntVar(&cfg.Blocks, "blocks", cfg.Blocks, "residual blocks")
	flag.IntVar(&cfg.EmbedSize, "embed", cfg.EmbedSize, "time embedding size")
	flag.StringVar(&markupPath, "markup", "", "optional convmarkup file for the network body")
	flag.BoolVar(&cfg.SaveHeatmaps, "pngs", false, "save heatmap images")
	flag.Int64Var(&seed, "seed", 0, "random seed")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.Parse()

	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if cfg.DataRoot == "" {
		logger.Fatal("missing -data flag")
	}
	cfg.Milestones = nil
	for _, field := range strings.Split(milestones, ",") {
		if field = strings.TrimSpace(field); field == "" {
			continue
		}
		m, err := strconv.Atoi(field)
		if err != nil {
			logger.WithError(err).Fatal("bad milestone")
		}
		cfg.Milestones = append(cfg.Milestones, m)
	}
	if markupPath != "" {
		data, err := os.ReadFile(markupPath)
		if err != nil {
			logger.WithError(err).Fatal("read markup")
		}
		cfg.BodyMarkup = string(data)
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	categories, err := anymvtec.ExpandCategories(category)
	if err != nil {
		logger.WithError(err).Fatal("invalid category")
	}

	r := rand.New(rand.NewSource(seed))
	for _, name := range categories {
		runner := &anyrun.Runner{
			Config:   cfg,
			Category: name,
			Creator:  anyvec32.CurrentCreator(),
			Logger:   logger,
			Rand:     r,
		}
		res, err := runner.Run()
		if err != nil {
			logger.WithError(err).WithField("category", name).Fatal("run failed")
		}
		logger.WithFields(logrus.Fields{
			"category":    name,
			"image_auroc": res.ImageAUROC,
			"pixel_auroc": res.PixelAUROC,
		}).Info("category finished")
	}
}
