package ml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromKind(t *testing.T) {
	for kind, want := range map[string]interface{}{
		"centroid": &Centroid{},
		"logistic": &Logistic{},
		"knn":      &KNN{},
		"prior":    &Prior{},
	} {
		p, err := NewFromKind(kind, "m", ScriptConfig{})
		require.NoError(t, err, kind)
		assert.IsType(t, want, p, kind)
		assert.Equal(t, "m", p.ID())
		_, trainable := p.(Trainable)
		assert.True(t, trainable, kind)
	}

	_, err := NewFromKind("forest", "m", ScriptConfig{})
	assert.Error(t, err)

	_, err = NewFromKind("script", "m", ScriptConfig{Interpreter: "/bin/sh", Path: "/does/not/exist.sh"})
	assert.Error(t, err)
}

func TestNewFromKind_Script(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predict.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo '{\"probabilities\":[1]}'\n"), 0o755))

	p, err := NewFromKind("script", "s", ScriptConfig{Interpreter: "/bin/sh", Path: path})
	require.NoError(t, err)
	assert.IsType(t, &Script{}, p)
}

func TestNewProviders(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	providers, err := NewProviders([]string{"centroid", "knn", "knn"}, nil, now, ScriptConfig{})
	require.NoError(t, err)
	require.Len(t, providers, 3)

	assert.Equal(t, "Centroid_20240301_123005", providers[0].ID())
	assert.Equal(t, "KNN_20240301_123005", providers[1].ID())
	assert.Equal(t, "KNN_20240301_123005_2", providers[2].ID())

	_, err = NewProviders([]string{"prior", "bogus"}, nil, now, ScriptConfig{})
	assert.Error(t, err)
}

func TestNewProviders_ConfiguredIDs(t *testing.T) {
	first := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	second := first.Add(time.Hour)

	kinds := []string{"centroid", "prior", "knn"}
	ids := []string{"node-1-centroid", "", "node-1-knn"}

	a, err := NewProviders(kinds, ids, first, ScriptConfig{})
	require.NoError(t, err)
	b, err := NewProviders(kinds, ids, second, ScriptConfig{})
	require.NoError(t, err)

	assert.Equal(t, "node-1-centroid", a[0].ID())
	assert.Equal(t, "Prior_20240301_123005", a[1].ID())
	assert.Equal(t, "node-1-knn", a[2].ID())

	// configured ids survive a later start, generated ones do not
	assert.Equal(t, a[0].ID(), b[0].ID())
	assert.Equal(t, a[2].ID(), b[2].ID())
	assert.NotEqual(t, a[1].ID(), b[1].ID())
}
