package common

import "time"

// Environment variable keys
const (
	EnvConfigFile          = "CONFIG_FILE"
	EnvNodeID              = "NODE_ID"
	EnvAPIPort             = "API_PORT"
	EnvModelServerPort     = "MODEL_SERVER_PORT"
	EnvMetricsPort         = "METRICS_PORT"
	EnvDataPath            = "DATA_PATH"
	EnvLedgerResetOnStart  = "LEDGER_RESET_ON_START"
	EnvInitialStake        = "INITIAL_STAKE"
	EnvSlashingThreshold   = "SLASHING_THRESHOLD"
	EnvSlashPercentage     = "SLASH_PERCENTAGE"
	EnvMinStakeRequired    = "MIN_STAKE_REQUIRED"
	EnvHistoryWindow       = "HISTORY_WINDOW"
	EnvProviderTimeout     = "PROVIDER_TIMEOUT"
	EnvPeerTimeout         = "PEER_TIMEOUT"
	EnvPeers               = "PEERS"
	EnvModels              = "MODELS"
	EnvModelIDs            = "MODEL_IDS"
	EnvServedModel         = "SERVED_MODEL"
	EnvDatasetPath         = "DATASET_PATH"
	EnvTrainOnStart        = "TRAIN_ON_START"
	EnvAPIRateLimit        = "API_RATE_LIMIT"
	EnvAPIRateBurst        = "API_RATE_BURST"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLogFormat           = "LOG_FORMAT"
	EnvScriptInterpreter   = "SCRIPT_INTERPRETER"
	EnvScriptPath          = "SCRIPT_PATH"
	EnvScriptModelPath     = "SCRIPT_MODEL_PATH"
	EnvSyntheticSamples    = "SYNTHETIC_SAMPLES"
	EnvSyntheticSeed       = "SYNTHETIC_SEED"
	EnvDatasetTestFraction = "DATASET_TEST_FRACTION"
)

// Economic defaults
const (
	DefaultInitialStake      = 1000.0 // initial deposit per model
	DefaultSlashingThreshold = 0.6    // rolling accuracy below which a slash happens
	DefaultSlashPercentage   = 0.1    // share of current stake removed per slash
	DefaultMinStakeRequired  = 100.0  // minimum stake to take part in consensus
	DefaultHistoryWindow     = 10
	MinWeight                = 0.1
	InitialWeight            = 1.0
)

// Configuration defaults
const (
	DefaultNodeID              = "node-1"
	DefaultAPIPort             = 5001
	DefaultModelServerPort     = 5002
	DefaultMetricsPort         = 9090
	DefaultServedModel         = ""
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultScriptInterpreter   = "python3"
	DefaultSyntheticSamples    = 150
	DefaultSyntheticSeed       = 42
	DefaultDatasetTestFraction = 0.2
	DefaultAPIRateBurst        = 20
	DefaultProviderTimeout     = 5 * time.Second
	DefaultPeerTimeout         = 5 * time.Second
)

// Model kinds understood by the provider factory
const (
	ModelKindCentroid = "centroid"
	ModelKindLogistic = "logistic"
	ModelKindKNN      = "knn"
	ModelKindPrior    = "prior"
	ModelKindScript   = "script"
)

// DefaultModels mirrors the three local model families every node starts with.
var DefaultModels = []string{ModelKindCentroid, ModelKindLogistic, ModelKindKNN}

// Common error messages
const (
	ErrMsgModelNotFound      = "Model not found"
	ErrMsgFeaturesRequired   = "features are required"
	ErrMsgPeerURLRequired    = "peer_url is required"
	ErrMsgModelIDRequired    = "model_id is required"
	ErrMsgInvalidJSON        = "invalid JSON body"
	ErrMsgRateLimited        = "rate limit exceeded"
	ErrMsgTrainingFailed     = "training failed"
	ErrMsgNoDatasetAvailable = "no dataset available"
)

// Validation constants
const (
	MinPort          = 1024
	MaxPort          = 65535
	MaxHistoryWindow = 1000
	MaxProviderCount = 64
)
