package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"stake-consensus/internal/api"
	"stake-consensus/internal/cfg"
	"stake-consensus/internal/consensus"
	"stake-consensus/internal/dataset"
	"stake-consensus/internal/ledger"
	"stake-consensus/internal/metrics"
	"stake-consensus/internal/ml"
	"stake-consensus/internal/peer"
	"stake-consensus/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Shape of the synthetic data used when no dataset file is configured.
	syntheticFeatures = 4
	syntheticClasses  = 3

	ledgerDocumentName = "ledger.json"
	shutdownTimeout    = 10 * time.Second
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	l := initializeLedger(c, store, mw)

	providers, err := ml.NewProviders(c.Models, c.LocalModelIDs(), time.Now(), ml.ScriptConfig{
		Interpreter: c.ScriptInterpreter,
		Path:        c.ScriptPath,
		ModelPath:   c.ScriptModelPath,
		Timeout:     c.ProviderTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build model providers")
	}
	for _, p := range providers {
		if _, err := l.Register(p.ID(), c.InitialStake); err != nil {
			log.Fatal().Err(err).Str("model_id", p.ID()).Msg("failed to register model")
		}
	}

	agg := consensus.New(l, providers, peer.NewREST(c.PeerTimeout), consensus.Options{
		MinStakeRequired: c.MinStakeRequired,
		ProviderTimeout:  c.ProviderTimeout,
		PeerTimeout:      c.PeerTimeout,
	}, mw)
	for _, addr := range c.Peers {
		agg.AddPeer(addr)
	}

	train, err := initializeDataset(c)
	if err != nil {
		log.Warn().Err(err).Msg("no training data available, POST /train will fail")
	}
	if train != nil && c.TrainOnStart {
		X, y := train.XY()
		trained, err := agg.Train(X, y)
		if err != nil {
			log.Warn().Err(err).Msg("initial training incomplete")
		}
		log.Info().Strs("models", trained).Int("samples", train.Len()).Msg("initial training finished")
	}

	var training api.TrainingSource
	if train != nil {
		training = func() (*dataset.Dataset, error) { return train, nil }
	}

	apiServer := api.NewServer(l, agg, training, mw, api.Config{
		Port:      c.APIPort,
		RateLimit: c.APIRateLimit,
		RateBurst: c.APIRateBurst,
	})

	var wg sync.WaitGroup
	startServer(&wg, "API", apiServer.Start, cancel)

	var modelServer *ml.ModelServer
	if served := servedProvider(c, providers); served != nil {
		modelServer = ml.NewModelServer(served, c.ModelServerPort, c.ProviderTimeout)
		startServer(&wg, "model", modelServer.Start, cancel)
	}

	metricsServer := newMetricsServer(c)
	startServer(&wg, "metrics", metricsServer.ListenAndServe, cancel)

	log.Info().
		Str("node_id", c.NodeID).
		Strs("models", l.ModelIDs()).
		Strs("peers", agg.Peers()).
		Msg("consensus node started")

	waitForShutdown(ctx, cancel)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}
	if modelServer != nil {
		if err := modelServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("model server shutdown failed")
		}
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown failed")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all servers stopped")
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timeout, forcing exit")
	}

	if store != nil {
		path := filepath.Join(c.DataPath, ledgerDocumentName)
		if err := store.ExportDocument(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to export ledger document")
		} else {
			log.Info().Str("path", path).Msg("ledger document exported")
		}
	}
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("node_id", c.NodeID).Logger()
}

// initializeStorage opens the ledger journal if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		log.Info().Msg("DATA_PATH not set, ledger is kept in memory only")
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	if c.LedgerResetOnStart {
		if err := store.Reset(); err != nil {
			log.Fatal().Err(err).Msg("failed to reset ledger")
		}
		log.Info().Msg("ledger reset on start")
	}
	return store
}

// initializeLedger creates the ledger and replays the journal into it
func initializeLedger(c cfg.Settings, store *storage.Store, mw *metrics.MetricsWrapper) *ledger.Ledger {
	lc := ledger.Config{
		InitialStake:      c.InitialStake,
		SlashingThreshold: c.SlashingThreshold,
		SlashPercentage:   c.SlashPercentage,
		HistoryWindow:     c.HistoryWindow,
	}
	if store == nil {
		return ledger.New(lc, nil, mw)
	}

	l := ledger.New(lc, store, mw)
	models, txs, err := store.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load ledger journal")
	}
	l.Restore(models, txs)
	return l
}

// initializeDataset loads DATASET_PATH, or generates synthetic data, and
// returns the training split.
func initializeDataset(c cfg.Settings) (*dataset.Dataset, error) {
	var (
		data *dataset.Dataset
		err  error
	)
	if c.DatasetPath != "" {
		data, err = dataset.Load(c.DatasetPath)
	} else {
		data, err = dataset.Synthetic(c.SyntheticSamples, syntheticFeatures, syntheticClasses, c.SyntheticSeed)
	}
	if err != nil {
		return nil, err
	}
	if c.DatasetTestFraction == 0 {
		return data, nil
	}
	train, _, err := data.Split(c.DatasetTestFraction, c.SyntheticSeed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	return train, nil
}

func servedProvider(c cfg.Settings, providers []ml.Provider) ml.Provider {
	if c.ServedModel == "" {
		return nil
	}
	for i, kind := range c.Models {
		if kind == c.ServedModel {
			return providers[i]
		}
	}
	return nil
}

func newMetricsServer(c cfg.Settings) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", c.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// startServer runs serve in the background. A server that fails to start
// cancels ctx so the node shuts down.
func startServer(wg *sync.WaitGroup, name string, serve func() error, cancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("server", name).Msg("server failed")
			cancel()
		}
	}()
}

// waitForShutdown blocks until a shutdown signal arrives or ctx is cancelled
func waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()
}
