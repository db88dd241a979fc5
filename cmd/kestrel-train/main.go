// Kestrel training tool.
//
// Fits the fraud model ensemble on labeled transaction data (synthetic data
// is generated and persisted when no dataset exists), evaluates on a
// time-ordered holdout, and writes artifacts the server can load.
//
// Usage:
//
//	go run cmd/kestrel-train/main.go -data training_data.json -out models
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/trainer"
)

func main() {
	cfg := trainer.DefaultConfig()

	flag.StringVar(&cfg.DataPath, "data", cfg.DataPath, "labeled dataset path (generated if missing)")
	flag.StringVar(&cfg.OutDir, "out", cfg.OutDir, "artifact output directory")
	flag.IntVar(&cfg.Samples, "samples", cfg.Samples, "synthetic sample count when generating")
	flag.Float64Var(&cfg.FraudRate, "fraud-rate", cfg.FraudRate, "synthetic fraud rate when generating")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for generation and fitting")
	flag.Float64Var(&cfg.Holdout, "holdout", cfg.Holdout, "trailing evaluation fraction")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	result, err := trainer.Run(cfg)
	if err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Training complete")
	fmt.Printf("  Samples:       %d (holdout %d)\n", result.Samples, result.TestSamples)
	fmt.Printf("  Fraud rate:    %.4f\n", result.FraudRate)
	fmt.Printf("  Artifacts:     %s\n", cfg.OutDir)
	fmt.Println()
	fmt.Println("  Model performance (holdout):")
	for _, name := range result.ModelsTrained {
		ev, ok := result.Evaluations[name]
		if !ok {
			continue
		}
		fmt.Printf("    %-18s AUC %.4f  P %.4f  R %.4f  F1 %.4f  opt-threshold %.4f\n",
			name, ev.AUC, ev.Precision, ev.Recall, ev.F1, ev.OptimalThreshold)
	}
	fmt.Println()
}
