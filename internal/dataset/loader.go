package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const labelColumn = "label"

// Load reads a dataset, choosing the format from the file extension:
// .json/.jsonl files hold one Sample object per line, anything else is CSV.
func Load(path string) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return LoadJSON(path)
	default:
		return LoadCSV(path)
	}
}

// LoadCSV reads a CSV file with a header row. The "label" column holds the
// class (an integer index or a name); when absent the last column is the
// label. Every other column is a numeric feature. Unparseable rows are
// skipped.
func LoadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("CSV needs at least one feature and a label column, got %d columns", len(header))
	}

	labelIdx := len(header) - 1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), labelColumn) {
			labelIdx = i
		}
	}

	var (
		samples []Sample
		labels  labelIndex
		skipped int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		features := make([]float64, 0, len(record)-1)
		ok := true
		for i, field := range record {
			if i == labelIdx {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				ok = false
				break
			}
			features = append(features, v)
		}
		if !ok {
			skipped++
			continue
		}

		samples = append(samples, Sample{Features: features, Label: labels.lookup(record[labelIdx])})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, path)
	}

	d := New(path, labels.remap(samples))
	d.LabelNames = labels.names()

	log.Info().
		Str("file", path).
		Int("samples", d.Len()).
		Int("classes", d.Classes).
		Int("skipped", skipped).
		Msg("CSV dataset loaded")
	return d, nil
}

// LoadJSON reads one Sample object per line.
func LoadJSON(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	var samples []Sample
	for decoder.More() {
		var s Sample
		if err := decoder.Decode(&s); err != nil {
			return nil, fmt.Errorf("failed to decode sample %d: %w", len(samples), err)
		}
		if len(s.Features) == 0 || s.Label < 0 {
			continue
		}
		samples = append(samples, s)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, path)
	}

	d := New(path, samples)
	log.Info().
		Str("file", path).
		Int("samples", d.Len()).
		Int("classes", d.Classes).
		Msg("JSON dataset loaded")
	return d, nil
}

// labelIndex maps raw label fields to class indices. Integer labels keep
// their value; named labels are numbered in order of first appearance.
type labelIndex struct {
	named   map[string]int
	order   []string
	numeric bool
}

func (li *labelIndex) lookup(raw string) int {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		li.numeric = true
		return n
	}
	if li.named == nil {
		li.named = make(map[string]int)
	}
	idx, ok := li.named[raw]
	if !ok {
		idx = len(li.order)
		li.named[raw] = idx
		li.order = append(li.order, raw)
	}
	return -1 - idx
}

// remap resolves named labels, which lookup returns as negative
// placeholders, once all names are known. Numeric labels stay as they are;
// named ones are placed after the largest numeric label.
func (li *labelIndex) remap(samples []Sample) []Sample {
	if len(li.order) == 0 {
		return samples
	}
	offset := 0
	for _, s := range samples {
		if s.Label >= 0 && s.Label+1 > offset {
			offset = s.Label + 1
		}
	}
	for i := range samples {
		if samples[i].Label < 0 {
			samples[i].Label = offset + (-1 - samples[i].Label)
		}
	}
	return samples
}

func (li *labelIndex) names() []string {
	if li.numeric || len(li.order) == 0 {
		return nil
	}
	return append([]string(nil), li.order...)
}
