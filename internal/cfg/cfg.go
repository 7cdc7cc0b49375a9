package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stake-consensus/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	NodeID          string
	APIPort         int
	ModelServerPort int
	MetricsPort     int

	DataPath           string
	LedgerResetOnStart bool

	InitialStake      float64
	SlashingThreshold float64
	SlashPercentage   float64
	MinStakeRequired  float64
	HistoryWindow     int

	ProviderTimeout time.Duration
	PeerTimeout     time.Duration
	Peers           []string

	Models              []string
	ModelIDs            []string
	ServedModel         string
	DatasetPath         string
	DatasetTestFraction float64
	TrainOnStart        bool
	SyntheticSamples    int
	SyntheticSeed       int64

	ScriptInterpreter string
	ScriptPath        string
	ScriptModelPath   string

	APIRateLimit float64
	APIRateBurst int

	LogLevel  string
	LogFormat string
}

type ConfigFile struct {
	Node struct {
		ID              string `yaml:"id"`
		APIPort         int    `yaml:"apiPort"`
		ModelServerPort int    `yaml:"modelServerPort"`
		MetricsPort     int    `yaml:"metricsPort"`
	} `yaml:"node"`

	Ledger struct {
		DataPath          string  `yaml:"dataPath"`
		ResetOnStart      bool    `yaml:"resetOnStart"`
		InitialStake      float64 `yaml:"initialStake"`
		SlashingThreshold float64 `yaml:"slashingThreshold"`
		SlashPercentage   float64 `yaml:"slashPercentage"`
		MinStakeRequired  float64 `yaml:"minStakeRequired"`
		HistoryWindow     int     `yaml:"historyWindow"`
	} `yaml:"ledger"`

	Consensus struct {
		ProviderTimeout string   `yaml:"providerTimeout"`
		PeerTimeout     string   `yaml:"peerTimeout"`
		Peers           []string `yaml:"peers"`
	} `yaml:"consensus"`

	Models struct {
		Kinds        []string `yaml:"kinds"`
		IDs          []string `yaml:"ids"`
		Served       string   `yaml:"served"`
		TrainOnStart bool     `yaml:"trainOnStart"`
		Script       struct {
			Interpreter string `yaml:"interpreter"`
			Path        string `yaml:"path"`
			ModelPath   string `yaml:"modelPath"`
		} `yaml:"script"`
	} `yaml:"models"`

	Dataset struct {
		Path             string  `yaml:"path"`
		TestFraction     float64 `yaml:"testFraction"`
		SyntheticSamples int     `yaml:"syntheticSamples"`
		SyntheticSeed    int64   `yaml:"syntheticSeed"`
	} `yaml:"dataset"`

	API struct {
		RateLimit float64 `yaml:"rateLimit"`
		RateBurst int     `yaml:"rateBurst"`
	} `yaml:"api"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load() (Settings, error) {
	// A missing .env file is fine, the environment alone is enough.
	_ = godotenv.Load()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	providerTimeout := parseDurationOr(config.Consensus.ProviderTimeout, common.DefaultProviderTimeout)
	peerTimeout := parseDurationOr(config.Consensus.PeerTimeout, common.DefaultPeerTimeout)

	settings := Settings{
		NodeID:          getEnvOrDefault(common.EnvNodeID, orString(config.Node.ID, common.DefaultNodeID)),
		APIPort:         getIntFromEnvOrConfig(common.EnvAPIPort, config.Node.APIPort, common.DefaultAPIPort),
		ModelServerPort: getIntFromEnvOrConfig(common.EnvModelServerPort, config.Node.ModelServerPort, common.DefaultModelServerPort),
		MetricsPort:     getIntFromEnvOrConfig(common.EnvMetricsPort, config.Node.MetricsPort, common.DefaultMetricsPort),

		DataPath:           getEnvOrDefault(common.EnvDataPath, config.Ledger.DataPath),
		LedgerResetOnStart: getBoolFromEnvOrConfig(common.EnvLedgerResetOnStart, config.Ledger.ResetOnStart),

		InitialStake:      getFloatFromEnvOrConfig(common.EnvInitialStake, config.Ledger.InitialStake, common.DefaultInitialStake),
		SlashingThreshold: getFloatFromEnvOrConfig(common.EnvSlashingThreshold, config.Ledger.SlashingThreshold, common.DefaultSlashingThreshold),
		SlashPercentage:   getFloatFromEnvOrConfig(common.EnvSlashPercentage, config.Ledger.SlashPercentage, common.DefaultSlashPercentage),
		MinStakeRequired:  getFloatFromEnvOrConfig(common.EnvMinStakeRequired, config.Ledger.MinStakeRequired, common.DefaultMinStakeRequired),
		HistoryWindow:     getIntFromEnvOrConfig(common.EnvHistoryWindow, config.Ledger.HistoryWindow, common.DefaultHistoryWindow),

		ProviderTimeout: getDurationOrDefault(common.EnvProviderTimeout, providerTimeout),
		PeerTimeout:     getDurationOrDefault(common.EnvPeerTimeout, peerTimeout),
		Peers:           getListFromEnvOrConfig(common.EnvPeers, config.Consensus.Peers, nil),

		Models:              getListFromEnvOrConfig(common.EnvModels, config.Models.Kinds, common.DefaultModels),
		ModelIDs:            getListFromEnvOrConfig(common.EnvModelIDs, config.Models.IDs, nil),
		ServedModel:         getEnvOrDefault(common.EnvServedModel, config.Models.Served),
		DatasetPath:         getEnvOrDefault(common.EnvDatasetPath, config.Dataset.Path),
		DatasetTestFraction: getFloatFromEnvOrConfig(common.EnvDatasetTestFraction, config.Dataset.TestFraction, common.DefaultDatasetTestFraction),
		TrainOnStart:        getBoolFromEnvOrConfig(common.EnvTrainOnStart, config.Models.TrainOnStart),
		SyntheticSamples:    getIntFromEnvOrConfig(common.EnvSyntheticSamples, config.Dataset.SyntheticSamples, common.DefaultSyntheticSamples),
		SyntheticSeed:       int64(getIntFromEnvOrConfig(common.EnvSyntheticSeed, int(config.Dataset.SyntheticSeed), common.DefaultSyntheticSeed)),

		ScriptInterpreter: getEnvOrDefault(common.EnvScriptInterpreter, orString(config.Models.Script.Interpreter, common.DefaultScriptInterpreter)),
		ScriptPath:        getEnvOrDefault(common.EnvScriptPath, config.Models.Script.Path),
		ScriptModelPath:   getEnvOrDefault(common.EnvScriptModelPath, config.Models.Script.ModelPath),

		APIRateLimit: getFloatFromEnvOrConfig(common.EnvAPIRateLimit, config.API.RateLimit, 0),
		APIRateBurst: getIntFromEnvOrConfig(common.EnvAPIRateBurst, config.API.RateBurst, common.DefaultAPIRateBurst),

		LogLevel:  getEnvOrDefault(common.EnvLogLevel, orString(config.Log.Level, common.DefaultLogLevel)),
		LogFormat: getEnvOrDefault(common.EnvLogFormat, orString(config.Log.Format, common.DefaultLogFormat)),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		NodeID:          getEnvOrDefault(common.EnvNodeID, common.DefaultNodeID),
		APIPort:         getIntOrDefault(common.EnvAPIPort, common.DefaultAPIPort),
		ModelServerPort: getIntOrDefault(common.EnvModelServerPort, common.DefaultModelServerPort),
		MetricsPort:     getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),

		DataPath:           os.Getenv(common.EnvDataPath), // optional
		LedgerResetOnStart: getBoolOrDefault(common.EnvLedgerResetOnStart, false),

		InitialStake:      getFloatOrDefault(common.EnvInitialStake, common.DefaultInitialStake),
		SlashingThreshold: getFloatOrDefault(common.EnvSlashingThreshold, common.DefaultSlashingThreshold),
		SlashPercentage:   getFloatOrDefault(common.EnvSlashPercentage, common.DefaultSlashPercentage),
		MinStakeRequired:  getFloatOrDefault(common.EnvMinStakeRequired, common.DefaultMinStakeRequired),
		HistoryWindow:     getIntOrDefault(common.EnvHistoryWindow, common.DefaultHistoryWindow),

		ProviderTimeout: getDurationOrDefault(common.EnvProviderTimeout, common.DefaultProviderTimeout),
		PeerTimeout:     getDurationOrDefault(common.EnvPeerTimeout, common.DefaultPeerTimeout),
		Peers:           splitOrDefault(os.Getenv(common.EnvPeers), nil),

		Models:              splitOrDefault(os.Getenv(common.EnvModels), common.DefaultModels),
		ModelIDs:            splitOrDefault(os.Getenv(common.EnvModelIDs), nil),
		ServedModel:         getEnvOrDefault(common.EnvServedModel, common.DefaultServedModel),
		DatasetPath:         os.Getenv(common.EnvDatasetPath),
		DatasetTestFraction: getFloatOrDefault(common.EnvDatasetTestFraction, common.DefaultDatasetTestFraction),
		TrainOnStart:        getBoolOrDefault(common.EnvTrainOnStart, false),
		SyntheticSamples:    getIntOrDefault(common.EnvSyntheticSamples, common.DefaultSyntheticSamples),
		SyntheticSeed:       int64(getIntOrDefault(common.EnvSyntheticSeed, common.DefaultSyntheticSeed)),

		ScriptInterpreter: getEnvOrDefault(common.EnvScriptInterpreter, common.DefaultScriptInterpreter),
		ScriptPath:        os.Getenv(common.EnvScriptPath),
		ScriptModelPath:   os.Getenv(common.EnvScriptModelPath),

		APIRateLimit: getFloatOrDefault(common.EnvAPIRateLimit, 0),
		APIRateBurst: getIntOrDefault(common.EnvAPIRateBurst, common.DefaultAPIRateBurst),

		LogLevel:  getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat: getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// LocalModelIDs returns the ids the local models are registered under, in
// Models order. Configured ids win. With a persistent ledger and no
// configured ids, ids are derived from the node id so a restart reuses the
// journaled records. Otherwise nil, and the providers pick timestamped ids.
func (s Settings) LocalModelIDs() []string {
	if len(s.ModelIDs) > 0 {
		return append([]string(nil), s.ModelIDs...)
	}
	if s.DataPath == "" {
		return nil
	}
	ids := make([]string, len(s.Models))
	for i, kind := range s.Models {
		ids[i] = fmt.Sprintf("%s_%s", s.NodeID, kind)
	}
	return ids
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// splitOrDefault splits a comma separated list, dropping blanks.
func splitOrDefault(v string, def []string) []string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getListFromEnvOrConfig(key string, configValue, def []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return def
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getFloatFromEnvOrConfig(key string, configValue, def float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings range-checks every configuration value
func validateSettings(settings *Settings) error {
	if strings.TrimSpace(settings.NodeID) == "" {
		return fmt.Errorf("node id cannot be empty")
	}

	// Ports
	for name, port := range map[string]int{
		"API port":          settings.APIPort,
		"model server port": settings.ModelServerPort,
		"metrics port":      settings.MetricsPort,
	} {
		if port < common.MinPort || port > common.MaxPort {
			return fmt.Errorf("%s must be between %d and %d, got %d", name, common.MinPort, common.MaxPort, port)
		}
	}
	if settings.APIPort == settings.ModelServerPort || settings.APIPort == settings.MetricsPort ||
		settings.ModelServerPort == settings.MetricsPort {
		return fmt.Errorf("API, model server and metrics ports must differ")
	}

	// Economic parameters
	if settings.InitialStake <= 0 {
		return fmt.Errorf("initial stake must be positive, got %f", settings.InitialStake)
	}
	if settings.SlashingThreshold < 0 || settings.SlashingThreshold > 1 {
		return fmt.Errorf("slashing threshold must be between 0 and 1, got %f", settings.SlashingThreshold)
	}
	if settings.SlashPercentage <= 0 || settings.SlashPercentage >= 1 {
		return fmt.Errorf("slash percentage must be between 0 and 1 (exclusive), got %f", settings.SlashPercentage)
	}
	if settings.MinStakeRequired < 0 {
		return fmt.Errorf("minimum stake cannot be negative, got %f", settings.MinStakeRequired)
	}
	if settings.MinStakeRequired > settings.InitialStake {
		return fmt.Errorf("minimum stake %f exceeds initial stake %f", settings.MinStakeRequired, settings.InitialStake)
	}
	if settings.HistoryWindow <= 0 || settings.HistoryWindow > common.MaxHistoryWindow {
		return fmt.Errorf("history window must be between 1 and %d, got %d", common.MaxHistoryWindow, settings.HistoryWindow)
	}

	// Timeouts
	if settings.ProviderTimeout < 10*time.Millisecond || settings.ProviderTimeout > time.Minute {
		return fmt.Errorf("provider timeout must be between 10ms and 1m, got %v", settings.ProviderTimeout)
	}
	if settings.PeerTimeout < 10*time.Millisecond || settings.PeerTimeout > time.Minute {
		return fmt.Errorf("peer timeout must be between 10ms and 1m, got %v", settings.PeerTimeout)
	}

	// Models
	if len(settings.Models) == 0 {
		return fmt.Errorf("at least one model kind must be specified")
	}
	if len(settings.Models) > common.MaxProviderCount {
		return fmt.Errorf("at most %d models are supported, got %d", common.MaxProviderCount, len(settings.Models))
	}
	hasScript := false
	for _, kind := range settings.Models {
		switch kind {
		case common.ModelKindCentroid, common.ModelKindLogistic, common.ModelKindKNN, common.ModelKindPrior:
		case common.ModelKindScript:
			hasScript = true
		default:
			return fmt.Errorf("unknown model kind %q", kind)
		}
	}
	if hasScript && settings.ScriptPath == "" {
		return fmt.Errorf("script model requires %s", common.EnvScriptPath)
	}
	if len(settings.ModelIDs) > 0 {
		if len(settings.ModelIDs) != len(settings.Models) {
			return fmt.Errorf("%d model ids given for %d models", len(settings.ModelIDs), len(settings.Models))
		}
		ids := make(map[string]bool, len(settings.ModelIDs))
		for _, id := range settings.ModelIDs {
			if ids[id] {
				return fmt.Errorf("duplicate model id %q", id)
			}
			ids[id] = true
		}
	}
	if settings.ServedModel != "" {
		found := false
		for _, kind := range settings.Models {
			if kind == settings.ServedModel {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("served model %q is not among the configured models", settings.ServedModel)
		}
	}

	// Dataset
	if settings.DatasetTestFraction < 0 || settings.DatasetTestFraction >= 1 {
		return fmt.Errorf("dataset test fraction must be between 0 and 1, got %f", settings.DatasetTestFraction)
	}
	if settings.SyntheticSamples <= 0 || settings.SyntheticSamples > 1000000 {
		return fmt.Errorf("synthetic samples must be between 1 and 1000000, got %d", settings.SyntheticSamples)
	}

	// API
	if settings.APIRateLimit < 0 {
		return fmt.Errorf("API rate limit cannot be negative, got %f", settings.APIRateLimit)
	}
	if settings.APIRateLimit > 0 && settings.APIRateBurst <= 0 {
		return fmt.Errorf("API rate burst must be positive when rate limiting, got %d", settings.APIRateBurst)
	}

	for _, peer := range settings.Peers {
		if !strings.HasPrefix(peer, "http://") && !strings.HasPrefix(peer, "https://") {
			return fmt.Errorf("peer %q must be an http(s) URL", peer)
		}
	}

	switch settings.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	return nil
}
