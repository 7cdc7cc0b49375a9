package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMetrics struct {
	mu            sync.Mutex
	registrations int
	slashes       int
	slashed       float64
	accuracies    []float64
}

func (m *mockMetrics) RegistrationsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations++
}

func (m *mockMetrics) SlashesInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slashes++
}

func (m *mockMetrics) SlashedStakeAdd(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slashed += v
}

func (m *mockMetrics) AccuracyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accuracies = append(m.accuracies, v)
}

type memJournal struct {
	mu      sync.Mutex
	fail    bool
	records map[string]ModelRecord
	txs     []Transaction
}

func (j *memJournal) Commit(id string, rec ModelRecord, txs []Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	if j.records == nil {
		j.records = make(map[string]ModelRecord)
	}
	j.records[id] = rec
	j.txs = append(j.txs, txs...)
	return nil
}

func newTestLedger() *Ledger {
	return New(DefaultConfig(), nil, nil)
}

func TestRegister_Idempotent(t *testing.T) {
	l := newTestLedger()

	created, err := l.Register("A", 1000)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = l.RecordPerformance("A", 0.9, []float64{0.1, 0.9})
	require.NoError(t, err)
	before, _ := l.Model("A")

	created, err = l.Register("A", 5000)
	require.NoError(t, err)
	assert.False(t, created)

	after, _ := l.Model("A")
	assert.Equal(t, before, after)
	assert.Len(t, l.Transactions(), 1, "duplicate registration must not append a transaction")
}

func TestRegister_Defaults(t *testing.T) {
	l := newTestLedger()

	created, err := l.Register("A", 0)
	require.NoError(t, err)
	require.True(t, created)

	rec, ok := l.Model("A")
	require.True(t, ok)
	assert.Equal(t, 1000.0, rec.Stake)
	assert.Equal(t, 1.0, rec.Weight)
	assert.Empty(t, rec.AccuracyHistory)
	assert.Empty(t, rec.PredictionHistory)

	txs := l.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, TxRegistration, txs[0].Type)
	assert.Equal(t, 1000.0, txs[0].Amount)
	assert.Empty(t, txs[0].Reason)
	assert.NotEmpty(t, txs[0].ID)
}

func TestRegister_InvalidInput(t *testing.T) {
	l := newTestLedger()

	_, err := l.Register("", 10)
	assert.ErrorIs(t, err, ErrEmptyModelID)

	_, err = l.Register("A", -1)
	assert.ErrorIs(t, err, ErrInvalidStake)

	_, err = l.Register("A", math.NaN())
	assert.ErrorIs(t, err, ErrInvalidStake)

	assert.Empty(t, l.ModelIDs())
}

func TestRecordPerformance_NotFound(t *testing.T) {
	l := newTestLedger()

	_, err := l.RecordPerformance("ghost", 0.5, []float64{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordPerformance_RejectsNonFinite(t *testing.T) {
	l := newTestLedger()
	_, _ = l.Register("A", 1000)

	for _, acc := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := l.RecordPerformance("A", acc, []float64{1})
		assert.ErrorIs(t, err, ErrInvalidAccuracy)
	}
	rec, _ := l.Model("A")
	assert.Empty(t, rec.AccuracyHistory)
}

func TestRecordPerformance_HistoryBound(t *testing.T) {
	l := newTestLedger()
	_, _ = l.Register("A", 1000)

	for i := 0; i < 15; i++ {
		_, err := l.RecordPerformance("A", 0.9, []float64{float64(i)})
		require.NoError(t, err)
	}

	rec, _ := l.Model("A")
	require.Len(t, rec.AccuracyHistory, 10)
	require.Len(t, rec.PredictionHistory, 10)
	for i, p := range rec.PredictionHistory {
		assert.Equal(t, []float64{float64(i + 5)}, p, "entry %d should be the %dth most recent", i, 10-i)
	}
}

func TestRecordPerformance_WeightFormula(t *testing.T) {
	tests := []struct {
		name       string
		accuracies []float64
		want       float64
	}{
		{"single high", []float64{0.8}, 0.8},
		{"mean of two", []float64{0.4, 1.0}, 0.7},
		{"floored", []float64{0.0, 0.05}, 0.1},
		{"perfect", []float64{1, 1, 1}, 1.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger()
			_, _ = l.Register("A", 1000)

			var upd Update
			for _, a := range tc.accuracies {
				var err error
				upd, err = l.RecordPerformance("A", a, []float64{a})
				require.NoError(t, err)
			}
			assert.InDelta(t, tc.want, upd.Weight, 1e-12)
			assert.GreaterOrEqual(t, upd.Weight, 0.1)
			assert.LessOrEqual(t, upd.Weight, 1.0)
		})
	}
}

func TestRecordPerformance_Slashing(t *testing.T) {
	l := newTestLedger()
	_, _ = l.Register("A", 1000)

	upd, err := l.RecordPerformance("A", 0.3, []float64{0.3})
	require.NoError(t, err)
	assert.True(t, upd.Slashed)
	assert.InDelta(t, 900.0, upd.Stake, 1e-9)
	assert.InDelta(t, 100.0, upd.Amount, 1e-9)

	upd, err = l.RecordPerformance("A", 0.9, []float64{0.9})
	require.NoError(t, err)
	assert.False(t, upd.Slashed, "mean of exactly 0.6 must not slash")
	assert.InDelta(t, 0.6, upd.Weight, 1e-12)
	assert.InDelta(t, 900.0, upd.Stake, 1e-9)

	txs := l.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, TxSlash, txs[1].Type)
	assert.Equal(t, "Low accuracy: 0.30", txs[1].Reason)
	assert.InDelta(t, 100.0, txs[1].Amount, 1e-9)
}

func TestRecordPerformance_GeometricDecay(t *testing.T) {
	l := newTestLedger()
	_, _ = l.Register("A", 1000)

	expected := 1000.0
	for i := 0; i < 200; i++ {
		before, _ := l.Model("A")
		upd, err := l.RecordPerformance("A", 0, []float64{0})
		require.NoError(t, err)

		expected *= 0.9
		assert.InEpsilon(t, before.Stake*0.9, upd.Stake, 1e-9)
		assert.Greater(t, upd.Stake, 0.0)
	}

	rec, _ := l.Model("A")
	assert.InEpsilon(t, expected, rec.Stake, 1e-9)
	assert.Len(t, l.Transactions(), 201)
}

func TestRecordPerformance_StakeNeverIncreases(t *testing.T) {
	l := newTestLedger()
	_, _ = l.Register("A", 1000)

	last := 1000.0
	for _, a := range []float64{0.2, 1, 1, 1, 0.1, 0.9, 0.5, 1, 1, 1, 1, 1} {
		upd, err := l.RecordPerformance("A", a, []float64{a})
		require.NoError(t, err)
		assert.LessOrEqual(t, upd.Stake, last)
		last = upd.Stake
	}
}

func TestJournal_CommitBeforeApply(t *testing.T) {
	j := &memJournal{}
	l := New(DefaultConfig(), j, nil)

	_, err := l.Register("A", 1000)
	require.NoError(t, err)
	_, err = l.RecordPerformance("A", 0.1, []float64{0.1})
	require.NoError(t, err)

	rec, _ := l.Model("A")
	assert.Equal(t, rec, j.records["A"])
	assert.Equal(t, l.Transactions(), j.txs)

	j.fail = true
	_, err = l.RecordPerformance("A", 0.1, []float64{0.1})
	require.Error(t, err)

	after, _ := l.Model("A")
	assert.Equal(t, rec, after, "failed journal write must not change memory")
	assert.Len(t, l.Transactions(), 2)

	created, err := l.Register("B", 1000)
	require.Error(t, err)
	assert.False(t, created)
	_, ok := l.Model("B")
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	src := newTestLedger()
	_, _ = src.Register("A", 1000)
	_, _ = src.Register("B", 500)
	_, _ = src.RecordPerformance("A", 0.2, []float64{0.2, 0.8})
	snap := src.Snapshot()

	dst := newTestLedger()
	dst.Restore(snap.Models, snap.Transactions)

	assert.Equal(t, snap.Models, dst.Models())
	assert.Equal(t, snap.Transactions, dst.Transactions())
	assert.Equal(t, []string{"A", "B"}, dst.ModelIDs())
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	l := newTestLedger()
	_, _ = l.Register("A", 1000)
	_, _ = l.RecordPerformance("A", 0.9, []float64{0.1, 0.9})

	snap := l.Snapshot()
	rec := snap.Models["A"]
	rec.PredictionHistory[0][0] = 42
	rec.AccuracyHistory[0] = 0
	snap.Transactions[0].Amount = 1

	fresh, _ := l.Model("A")
	assert.Equal(t, 0.1, fresh.PredictionHistory[0][0])
	assert.Equal(t, 0.9, fresh.AccuracyHistory[0])
	assert.Equal(t, 1000.0, l.Transactions()[0].Amount)
}

func TestSubscribe_ReceivesTransactionsInOrder(t *testing.T) {
	l := newTestLedger()
	var got []TxType
	l.Subscribe(func(tx Transaction) { got = append(got, tx.Type) })

	_, _ = l.Register("A", 1000)
	_, _ = l.RecordPerformance("A", 0.1, []float64{0.1})
	_, _ = l.RecordPerformance("A", 0.9, []float64{0.9})

	assert.Equal(t, []TxType{TxRegistration, TxSlash, TxSlash}, got)
}

func TestMetrics(t *testing.T) {
	m := &mockMetrics{}
	l := New(DefaultConfig(), nil, m)

	_, _ = l.Register("A", 1000)
	_, _ = l.Register("A", 1000)
	_, _ = l.RecordPerformance("A", 0.5, []float64{0.5})
	_, _ = l.RecordPerformance("A", 0.9, []float64{0.9})

	assert.Equal(t, 1, m.registrations)
	assert.Equal(t, 1, m.slashes)
	assert.InDelta(t, 100.0, m.slashed, 1e-9)
	assert.Equal(t, []float64{0.5, 0.9}, m.accuracies)
}

func TestConcurrentUpdates(t *testing.T) {
	l := newTestLedger()
	const models = 4
	const perModel = 50
	for i := 0; i < models; i++ {
		_, _ = l.Register(fmt.Sprintf("m%d", i), 1000)
	}

	var wg sync.WaitGroup
	for i := 0; i < models; i++ {
		for k := 0; k < perModel; k++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := l.RecordPerformance(id, 0.0, []float64{0})
				assert.NoError(t, err)
			}(fmt.Sprintf("m%d", i))
		}
	}

	done := make(chan struct{})
	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		for {
			select {
			case <-done:
				return
			default:
				snap := l.Snapshot()
				for _, rec := range snap.Models {
					assert.Equal(t, len(rec.AccuracyHistory), len(rec.PredictionHistory))
				}
			}
		}
	}()
	wg.Wait()
	close(done)
	reader.Wait()

	for i := 0; i < models; i++ {
		rec, _ := l.Model(fmt.Sprintf("m%d", i))
		assert.InEpsilon(t, 1000*math.Pow(0.9, perModel), rec.Stake, 1e-9)
	}
	assert.Len(t, l.Transactions(), models+models*perModel)
}
