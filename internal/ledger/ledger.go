// Package ledger owns the economic state of every model taking part in
// consensus: stake, derived weight, bounded accuracy and prediction history,
// and the append-only transaction log.
//
// All mutations are serialized by a single readers-writer lock. When a
// Journal is configured, each mutation is committed to it before it becomes
// visible in memory, so a failed write never leaves the two out of step.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"stake-consensus/internal/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound        = errors.New("model not found")
	ErrInvalidAccuracy = errors.New("accuracy must be a finite number")
	ErrInvalidStake    = errors.New("stake must be a finite non-negative number")
	ErrEmptyModelID    = errors.New("model id is empty")
)

// Journal persists ledger mutations. Commit receives the full post-mutation
// record and the transactions appended by that mutation.
type Journal interface {
	Commit(modelID string, record ModelRecord, txs []Transaction) error
}

// MetricsInterface defines the metrics methods needed by the ledger
type MetricsInterface interface {
	RegistrationsInc()
	SlashesInc()
	SlashedStakeAdd(float64)
	AccuracyObserve(float64)
}

// Config holds the economic parameters of a ledger.
type Config struct {
	InitialStake      float64
	SlashingThreshold float64
	SlashPercentage   float64
	HistoryWindow     int
}

// DefaultConfig returns the standard economic parameters.
func DefaultConfig() Config {
	return Config{
		InitialStake:      common.DefaultInitialStake,
		SlashingThreshold: common.DefaultSlashingThreshold,
		SlashPercentage:   common.DefaultSlashPercentage,
		HistoryWindow:     common.DefaultHistoryWindow,
	}
}

// Ledger is the authoritative in-memory stake store.
type Ledger struct {
	mu        sync.RWMutex
	cfg       Config
	models    map[string]*ModelRecord
	txs       []Transaction
	journal   Journal
	metrics   MetricsInterface
	listeners []func(Transaction)
	now       func() time.Time
}

// New creates an empty ledger. journal and metrics may be nil.
func New(cfg Config, journal Journal, metrics MetricsInterface) *Ledger {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = common.DefaultHistoryWindow
	}
	if cfg.InitialStake <= 0 {
		cfg.InitialStake = common.DefaultInitialStake
	}
	return &Ledger{
		cfg:     cfg,
		models:  make(map[string]*ModelRecord),
		journal: journal,
		metrics: metrics,
		now:     time.Now,
	}
}

// Config returns the ledger's economic parameters.
func (l *Ledger) Config() Config {
	return l.cfg
}

// Subscribe registers fn to be called for every transaction appended to the
// log, in apply order. fn runs under the write lock and must not block or call
// back into the ledger.
func (l *Ledger) Subscribe(fn func(Transaction)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Restore replaces the ledger contents with previously persisted state.
// It does not go through the journal.
func (l *Ledger) Restore(models map[string]ModelRecord, txs []Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.models = make(map[string]*ModelRecord, len(models))
	for id, rec := range models {
		r := rec.clone()
		l.truncate(&r)
		l.models[id] = &r
	}
	l.txs = append([]Transaction(nil), txs...)

	log.Info().
		Int("models", len(l.models)).
		Int("transactions", len(l.txs)).
		Msg("ledger restored")
}

// Register creates a record for modelID with the given stake. A stake of zero
// selects the configured initial stake. Registering an existing id is a no-op
// that returns created=false.
func (l *Ledger) Register(modelID string, initialStake float64) (bool, error) {
	if modelID == "" {
		return false, ErrEmptyModelID
	}
	if initialStake < 0 || math.IsNaN(initialStake) || math.IsInf(initialStake, 0) {
		return false, ErrInvalidStake
	}
	if initialStake == 0 {
		initialStake = l.cfg.InitialStake
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.models[modelID]; exists {
		return false, nil
	}

	now := l.now()
	rec := ModelRecord{
		Stake:             initialStake,
		Weight:            common.InitialWeight,
		AccuracyHistory:   []float64{},
		PredictionHistory: [][]float64{},
		RegisteredAt:      now,
	}
	tx := Transaction{
		ID:        uuid.NewString(),
		Timestamp: now,
		ModelID:   modelID,
		Type:      TxRegistration,
		Amount:    initialStake,
	}

	if err := l.commit(modelID, rec, []Transaction{tx}); err != nil {
		return false, err
	}

	l.models[modelID] = &rec
	l.append(tx)

	if l.metrics != nil {
		l.metrics.RegistrationsInc()
	}
	log.Info().Str("model_id", modelID).Float64("stake", initialStake).Msg("model registered")
	return true, nil
}

// RecordPerformance appends an accuracy observation and its prediction to the
// model's history, recomputes its weight and slashes its stake if the rolling
// mean accuracy falls below the slashing threshold. The whole sequence is
// applied atomically.
//
// Accuracy is expected in [0, 1]; values outside that range are stored as
// given but make the threshold comparison meaningless.
func (l *Ledger) RecordPerformance(modelID string, accuracy float64, prediction []float64) (Update, error) {
	if math.IsNaN(accuracy) || math.IsInf(accuracy, 0) {
		return Update{}, ErrInvalidAccuracy
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.models[modelID]
	if !ok {
		return Update{}, fmt.Errorf("%w: %s", ErrNotFound, modelID)
	}

	next := cur.clone()
	next.AccuracyHistory = append(next.AccuracyHistory, accuracy)
	next.PredictionHistory = append(next.PredictionHistory, append([]float64(nil), prediction...))
	l.truncate(&next)

	avg := mean(next.AccuracyHistory)
	next.Weight = math.Max(common.MinWeight, avg)

	upd := Update{Weight: next.Weight, Mean: avg}
	var txs []Transaction
	if avg < l.cfg.SlashingThreshold {
		amount := next.Stake * l.cfg.SlashPercentage
		next.Stake -= amount
		upd.Slashed = true
		upd.Amount = amount
		txs = append(txs, Transaction{
			ID:        uuid.NewString(),
			Timestamp: l.now(),
			ModelID:   modelID,
			Type:      TxSlash,
			Amount:    amount,
			Reason:    fmt.Sprintf("Low accuracy: %.2f", avg),
		})
	}
	upd.Stake = next.Stake

	if err := l.commit(modelID, next, txs); err != nil {
		return Update{}, err
	}

	*cur = next
	for _, tx := range txs {
		l.append(tx)
	}

	if l.metrics != nil {
		l.metrics.AccuracyObserve(accuracy)
		if upd.Slashed {
			l.metrics.SlashesInc()
			l.metrics.SlashedStakeAdd(upd.Amount)
		}
	}
	if upd.Slashed {
		log.Warn().
			Str("model_id", modelID).
			Float64("mean_accuracy", avg).
			Float64("amount", upd.Amount).
			Float64("stake", upd.Stake).
			Msg("model slashed")
	}
	return upd, nil
}

// Snapshot returns a deep copy of the ledger taken at a single point in time.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Snapshot{
		Models:       l.copyModels(),
		Transactions: l.copyTxs(),
		TakenAt:      l.now(),
	}
}

// Models returns a consistent copy of all model records without the log.
func (l *Ledger) Models() map[string]ModelRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyModels()
}

// Model returns a copy of a single record.
func (l *Ledger) Model(modelID string) (ModelRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.models[modelID]
	if !ok {
		return ModelRecord{}, false
	}
	return rec.clone(), true
}

// ModelIDs returns the registered model identities in sorted order.
func (l *Ledger) ModelIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.models))
	for id := range l.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Transactions returns a copy of the transaction log in apply order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyTxs()
}

func (l *Ledger) copyTxs() []Transaction {
	out := make([]Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

func (l *Ledger) copyModels() map[string]ModelRecord {
	out := make(map[string]ModelRecord, len(l.models))
	for id, rec := range l.models {
		out[id] = rec.clone()
	}
	return out
}

func (l *Ledger) commit(modelID string, rec ModelRecord, txs []Transaction) error {
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Commit(modelID, rec, txs); err != nil {
		log.Error().Err(err).Str("model_id", modelID).Msg("ledger journal commit failed")
		return fmt.Errorf("journal commit: %w", err)
	}
	return nil
}

// append must be called with the write lock held.
func (l *Ledger) append(tx Transaction) {
	l.txs = append(l.txs, tx)
	for _, fn := range l.listeners {
		fn(tx)
	}
}

// truncate keeps only the most recent HistoryWindow entries of both histories.
func (l *Ledger) truncate(rec *ModelRecord) {
	w := l.cfg.HistoryWindow
	if n := len(rec.AccuracyHistory); n > w {
		rec.AccuracyHistory = append([]float64(nil), rec.AccuracyHistory[n-w:]...)
	}
	if n := len(rec.PredictionHistory); n > w {
		rec.PredictionHistory = append([][]float64(nil), rec.PredictionHistory[n-w:]...)
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
