package ml

import (
	"fmt"
	"time"

	"stake-consensus/internal/common"
)

// ScriptConfig carries the settings of the external script family.
type ScriptConfig struct {
	Interpreter string
	Path        string
	ModelPath   string
	Timeout     time.Duration
}

var displayNames = map[string]string{
	common.ModelKindCentroid: "Centroid",
	common.ModelKindLogistic: "Logistic",
	common.ModelKindKNN:      "KNN",
	common.ModelKindPrior:    "Prior",
	common.ModelKindScript:   "Script",
}

// DisplayName returns the name model ids of kind start with.
func DisplayName(kind string) string {
	if name, ok := displayNames[kind]; ok {
		return name
	}
	return kind
}

// NewFromKind builds an untrained provider of the given kind under id.
func NewFromKind(kind, id string, script ScriptConfig) (Provider, error) {
	switch kind {
	case common.ModelKindCentroid:
		return NewCentroid(id), nil
	case common.ModelKindLogistic:
		return NewLogistic(id, 0, 0), nil
	case common.ModelKindKNN:
		return NewKNN(id, 0), nil
	case common.ModelKindPrior:
		return NewPrior(id), nil
	case common.ModelKindScript:
		return NewScript(id, script.Interpreter, script.Path, script.ModelPath, script.Timeout)
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}

// NewProviders builds one provider per kind. ids[i], when present and not
// empty, names the provider of kinds[i]; otherwise the id is derived from the
// kind name and now. Repeated ids get a numeric suffix so they stay unique.
func NewProviders(kinds, ids []string, now time.Time, script ScriptConfig) ([]Provider, error) {
	seen := make(map[string]int, len(kinds))
	providers := make([]Provider, 0, len(kinds))
	for i, kind := range kinds {
		id := NewModelID(DisplayName(kind), now)
		if i < len(ids) && ids[i] != "" {
			id = ids[i]
		}
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s_%d", id, n)
		}
		p, err := NewFromKind(kind, id, script)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
