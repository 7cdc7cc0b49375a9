package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV_NumericLabels(t *testing.T) {
	path := writeFile(t, "data.csv", "a,b,label\n1,2,0\n3,4,1\nx,5,1\n6,7,2\n")

	d, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len(), "row with non-numeric feature is skipped")
	assert.Equal(t, 3, d.Classes)
	assert.Nil(t, d.LabelNames)

	X, y := d.XY()
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {6, 7}}, X)
	assert.Equal(t, []int{0, 1, 2}, y)
}

func TestLoadCSV_NamedLabelsFirstColumn(t *testing.T) {
	path := writeFile(t, "iris.csv", "label,sepal,petal\nsetosa,5.1,1.4\nvirginica,6.3,6.0\nsetosa,4.9,1.3\n")

	d, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"setosa", "virginica"}, d.LabelNames)
	assert.Equal(t, 2, d.Classes)

	_, y := d.XY()
	assert.Equal(t, []int{0, 1, 0}, y)
}

func TestLoadCSV_LastColumnDefault(t *testing.T) {
	path := writeFile(t, "data.csv", "f1,f2,class\n0.5,0.5,1\n")

	d, err := LoadCSV(path)
	require.NoError(t, err)
	X, y := d.XY()
	assert.Equal(t, [][]float64{{0.5, 0.5}}, X)
	assert.Equal(t, []int{1}, y)
}

func TestLoadCSV_Errors(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = LoadCSV(writeFile(t, "one.csv", "only\n1\n"))
	assert.Error(t, err)

	_, err = LoadCSV(writeFile(t, "empty.csv", "a,label\nx,1\n"))
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "data.jsonl", `{"features":[1,2],"label":1}
{"features":[],"label":0}
{"features":[3,4],"label":0}
`)
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, 2, d.Classes)

	_, err = LoadJSON(writeFile(t, "bad.json", `{"features":`))
	assert.Error(t, err)
}

func TestSynthetic_Deterministic(t *testing.T) {
	a, err := Synthetic(30, 4, 3, 42)
	require.NoError(t, err)
	b, err := Synthetic(30, 4, 3, 42)
	require.NoError(t, err)

	assert.Equal(t, a.Samples(), b.Samples())
	assert.Equal(t, 30, a.Len())
	assert.Equal(t, 3, a.Classes)
	for _, s := range a.Samples() {
		assert.Len(t, s.Features, 4)
	}

	c, err := Synthetic(30, 4, 3, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a.Samples(), c.Samples())

	_, err = Synthetic(0, 4, 3, 1)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	d, err := Synthetic(100, 2, 2, 1)
	require.NoError(t, err)

	train, test, err := d.Split(0.2, 9)
	require.NoError(t, err)
	assert.Equal(t, 80, train.Len())
	assert.Equal(t, 20, test.Len())
	assert.Equal(t, 2, test.Classes)

	again, _, err := d.Split(0.2, 9)
	require.NoError(t, err)
	assert.Equal(t, train.Samples(), again.Samples())

	_, _, err = d.Split(1, 9)
	assert.Error(t, err)
	_, _, err = New("empty", nil).Split(0.2, 1)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestCursor(t *testing.T) {
	d := New("mem", []Sample{{Features: []float64{1}, Label: 0}, {Features: []float64{2}, Label: 1}})
	assert.Equal(t, 0.0, d.Progress())

	var labels []int
	for d.HasNext() {
		labels = append(labels, d.Next().Label)
	}
	assert.Equal(t, []int{0, 1}, labels)
	assert.Equal(t, 100.0, d.Progress())
	assert.Equal(t, Sample{}, d.Next())

	d.Reset()
	assert.True(t, d.HasNext())
}
