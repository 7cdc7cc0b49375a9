package evaluate

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-consensus/internal/consensus"
	"stake-consensus/internal/dataset"
	"stake-consensus/internal/ledger"
	"stake-consensus/internal/ml"
)

// constProvider always predicts the same vector.
type constProvider struct {
	id string
	p  []float64
}

func (c constProvider) ID() string { return c.id }

func (c constProvider) Predict(ctx context.Context, features []float64) ([]float64, error) {
	return c.p, nil
}

func setup(t *testing.T, samples []dataset.Sample) (*Engine, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.DefaultConfig(), nil, nil)
	providers := []ml.Provider{
		constProvider{id: "always0", p: []float64{1, 0}},
		constProvider{id: "always1", p: []float64{0, 1}},
	}
	for _, p := range providers {
		_, err := l.Register(p.ID(), 0)
		require.NoError(t, err)
	}
	agg := consensus.New(l, providers, nil, consensus.DefaultOptions(), nil)
	return NewEngine(agg, l, dataset.New("test", samples), Options{RecordOutcomes: true}), l
}

func TestEngine_Run(t *testing.T) {
	samples := make([]dataset.Sample, 10)
	for i := range samples {
		samples[i] = dataset.Sample{Features: []float64{float64(i)}, Label: 1}
	}
	engine, l := setup(t, samples)

	require.NoError(t, engine.Run(context.Background()))
	res := engine.GetResults()

	assert.Equal(t, 10, res.Samples)
	assert.Equal(t, 0, res.FailedRounds)

	right := res.Models["always1"]
	wrong := res.Models["always0"]
	require.NotNil(t, right)
	require.NotNil(t, wrong)

	assert.Equal(t, 10, right.Correct)
	assert.Equal(t, 1.0, right.HitRate)
	assert.Equal(t, 1.0, right.MeanAccuracy)
	assert.Equal(t, 0, right.Slashes)
	assert.Equal(t, 1000.0, right.FinalStake)

	assert.Equal(t, 0, wrong.Correct)
	assert.Equal(t, 10, wrong.Slashes)
	assert.Equal(t, 0.1, wrong.FinalWeight)
	assert.Len(t, wrong.Trajectory, 10)

	rec, ok := l.Model("always0")
	require.True(t, ok)
	assert.Equal(t, rec.Stake, wrong.FinalStake)
	assert.Less(t, wrong.FinalStake, 1000.0)

	// Once "always0" loses weight the consensus follows "always1".
	assert.GreaterOrEqual(t, res.Correct, 9)
}

func TestEngine_CancelledContext(t *testing.T) {
	engine, _ := setup(t, []dataset.Sample{{Features: []float64{1}, Label: 0}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, engine.Run(ctx), context.Canceled)
	assert.Equal(t, 0, engine.GetResults().Samples)
}

func TestReporter_GenerateReport(t *testing.T) {
	samples := []dataset.Sample{
		{Features: []float64{1}, Label: 0},
		{Features: []float64{2}, Label: 1},
	}
	engine, _ := setup(t, samples)
	require.NoError(t, engine.Run(context.Background()))

	out := filepath.Join(t.TempDir(), "report")
	require.NoError(t, NewReporter(engine.GetResults(), out).GenerateReport())

	summary, err := os.ReadFile(filepath.Join(out, summaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Consensus Accuracy")
	assert.Contains(t, string(summary), "always0")

	f, err := os.Open(filepath.Join(out, trajectoryFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1+2*2)
	assert.Equal(t, []string{"Model", "Step", "Stake", "Weight"}, rows[0])

	data, err := os.ReadFile(filepath.Join(out, jsonFile))
	require.NoError(t, err)
	var report struct {
		Results Results `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Results.Samples)
	assert.Len(t, report.Results.Models, 2)
}
