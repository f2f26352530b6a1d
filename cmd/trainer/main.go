// Command trainer fits the anomaly estimator on synthetic traffic and writes
// the model artifact the gateway loads at startup.
package main

import (
	"flag"
	"log/slog"
	"os"

	"bot-admission-gateway/internal/estimator"
	"bot-admission-gateway/internal/logger"
)

func main() {
	def := estimator.DefaultTrainConfig()

	out := flag.String("out", "bot_model.json", "where to write the model artifact")
	trees := flag.Int("trees", def.Trees, "number of trees")
	samples := flag.Int("samples", def.Samples, "synthetic samples, split evenly between classes")
	depth := flag.Int("depth", def.MaxDepth, "maximum tree depth")
	seed := flag.Uint64("seed", def.Seed, "random seed")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*level, "text")
	slog.SetDefault(log)

	cfg := def
	cfg.Trees = *trees
	cfg.Samples = *samples
	cfg.MaxDepth = *depth
	cfg.Seed = *seed

	if err := cfg.Validate(); err != nil {
		log.Error("invalid training config", "error", err)
		os.Exit(2)
	}

	log.Info("training model", "trees", cfg.Trees, "samples", cfg.Samples, "depth", cfg.MaxDepth, "seed", cfg.Seed)
	forest := estimator.Train(cfg)

	if err := forest.Validate(); err != nil {
		log.Error("trained model failed validation", "error", err)
		os.Exit(1)
	}
	if err := estimator.SaveFile(*out, forest); err != nil {
		log.Error("could not write model", "path", *out, "error", err)
		os.Exit(1)
	}
	log.Info("model written", "path", *out, "trees", len(forest.Trees))
}
