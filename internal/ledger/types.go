package ledger

import "time"

// TxType identifies the kind of ledger transaction.
type TxType string

const (
	TxRegistration TxType = "registration"
	TxSlash        TxType = "slash"
)

// ModelRecord is the economic state of a single model.
// AccuracyHistory and PredictionHistory are index-aligned and bounded by the
// ledger's history window.
type ModelRecord struct {
	Stake             float64     `json:"stake"`
	Weight            float64     `json:"weight"`
	AccuracyHistory   []float64   `json:"accuracy_history"`
	PredictionHistory [][]float64 `json:"prediction_history"`
	RegisteredAt      time.Time   `json:"registered_at"`
}

// Eligible reports whether the record may vote given the minimum stake.
func (r ModelRecord) Eligible(minStake float64) bool {
	return r.Stake >= minStake
}

func (r ModelRecord) clone() ModelRecord {
	out := r
	out.AccuracyHistory = make([]float64, len(r.AccuracyHistory))
	copy(out.AccuracyHistory, r.AccuracyHistory)
	out.PredictionHistory = make([][]float64, len(r.PredictionHistory))
	for i, p := range r.PredictionHistory {
		out.PredictionHistory[i] = make([]float64, len(p))
		copy(out.PredictionHistory[i], p)
	}
	return out
}

// Transaction is an immutable entry of the append-only ledger log.
type Transaction struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ModelID   string    `json:"model_id"`
	Type      TxType    `json:"type"`
	Amount    float64   `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
}

// Snapshot is a point-in-time copy of the whole ledger.
type Snapshot struct {
	Models       map[string]ModelRecord `json:"models"`
	Transactions []Transaction          `json:"transaction_history"`
	TakenAt      time.Time              `json:"-"`
}

// Update is the result of a performance update.
type Update struct {
	Weight  float64
	Stake   float64
	Mean    float64
	Slashed bool
	Amount  float64
}
