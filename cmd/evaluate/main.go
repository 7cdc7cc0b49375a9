package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stake-consensus/internal/cfg"
	"stake-consensus/internal/consensus"
	"stake-consensus/internal/dataset"
	"stake-consensus/internal/evaluate"
	"stake-consensus/internal/ledger"
	"stake-consensus/internal/ml"
	"stake-consensus/internal/peer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		dataPath     = flag.String("data", "", "Dataset file (.csv or .json); empty generates synthetic data")
		models       = flag.String("models", "", "Comma-separated model kinds (overrides config)")
		peers        = flag.String("peers", "", "Comma-separated peer model server URLs")
		outputPath   = flag.String("output", "", "Output directory for results")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		testFraction = flag.Float64("test-fraction", -1, "Share of samples replayed; the rest trains the models")
		samples      = flag.Int("samples", 0, "Synthetic sample count (overrides config)")
		seed         = flag.Int64("seed", 0, "Seed for synthetic data and the split (overrides config)")
		noOutcomes   = flag.Bool("no-outcomes", false, "Replay predictions without updating stakes")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if *models != "" {
		config.Models = splitList(*models)
		config.ModelIDs = nil
	}
	if *peers != "" {
		config.Peers = splitList(*peers)
	}
	if *dataPath != "" {
		config.DatasetPath = *dataPath
	}
	if *testFraction >= 0 {
		config.DatasetTestFraction = *testFraction
	}
	if *samples > 0 {
		config.SyntheticSamples = *samples
	}
	if *seed != 0 {
		config.SyntheticSeed = *seed
	}

	fmt.Println("=== Evaluation Configuration ===")
	fmt.Printf("Dataset: %s\n", orDefault(config.DatasetPath, "synthetic"))
	fmt.Printf("Models: %s\n", strings.Join(config.Models, ", "))
	fmt.Printf("Peers: %d\n", len(config.Peers))
	fmt.Printf("Test Fraction: %.2f\n", config.DatasetTestFraction)
	fmt.Printf("Output Directory: %s\n", orDefault(*outputPath, "(none)"))
	fmt.Println("================================")

	data, err := loadData(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}
	train, test, err := data.Split(config.DatasetTestFraction, config.SyntheticSeed)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to split data")
	}
	if test.Len() == 0 {
		log.Fatal().Float64("test_fraction", config.DatasetTestFraction).Msg("No samples left to replay")
	}

	l := ledger.New(ledger.Config{
		InitialStake:      config.InitialStake,
		SlashingThreshold: config.SlashingThreshold,
		SlashPercentage:   config.SlashPercentage,
		HistoryWindow:     config.HistoryWindow,
	}, nil, nil)

	providers, err := ml.NewProviders(config.Models, config.ModelIDs, time.Now(), ml.ScriptConfig{
		Interpreter: config.ScriptInterpreter,
		Path:        config.ScriptPath,
		ModelPath:   config.ScriptModelPath,
		Timeout:     config.ProviderTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build models")
	}
	for _, p := range providers {
		if _, err := l.Register(p.ID(), config.InitialStake); err != nil {
			log.Fatal().Err(err).Str("model_id", p.ID()).Msg("Failed to register model")
		}
	}

	agg := consensus.New(l, providers, peer.NewREST(config.PeerTimeout), consensus.Options{
		MinStakeRequired: config.MinStakeRequired,
		ProviderTimeout:  config.ProviderTimeout,
		PeerTimeout:      config.PeerTimeout,
	}, nil)
	for _, addr := range config.Peers {
		agg.AddPeer(addr)
	}

	X, y := train.XY()
	if _, err := agg.Train(X, y); err != nil {
		log.Warn().Err(err).Msg("Some models failed to train")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := evaluate.NewEngine(agg, l, test, evaluate.Options{
		IncludePeers:   len(config.Peers) > 0,
		RecordOutcomes: !*noOutcomes,
	})

	log.Info().Int("train", train.Len()).Int("test", test.Len()).Msg("Starting evaluation...")
	if err := engine.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Evaluation failed")
	}

	results := engine.GetResults()

	reporter := evaluate.NewReporter(results, *outputPath)
	if *outputPath != "" {
		if err := reporter.GenerateReport(); err != nil {
			log.Error().Err(err).Msg("Failed to generate reports")
		}
	}

	reporter.PrintSummary()

	log.Info().
		Str("output", *outputPath).
		Msg("Evaluation completed successfully")
}

func loadData(config cfg.Settings) (*dataset.Dataset, error) {
	if config.DatasetPath != "" {
		return dataset.Load(config.DatasetPath)
	}
	return dataset.Synthetic(config.SyntheticSamples, 4, 3, config.SyntheticSeed)
}

// splitList parses a comma-separated flag value
func splitList(v string) []string {
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
