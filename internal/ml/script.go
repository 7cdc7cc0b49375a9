package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrScriptFailed = errors.New("inference script failed")

// scriptWaitDelay bounds how long a killed script's children may hold its
// output pipes open.
const scriptWaitDelay = 500 * time.Millisecond

// ScriptRequest is written to the inference script's stdin.
type ScriptRequest struct {
	Features []float64 `json:"features"`
}

// ScriptResponse is read from the inference script's stdout.
type ScriptResponse struct {
	Probabilities []float64 `json:"probabilities"`
	Error         string    `json:"error,omitempty"`
}

// Script runs an external inference command once per prediction:
//
//	<interpreter> <script> [model]
//
// The request is passed as JSON on stdin and the response read from stdout.
type Script struct {
	id          string
	interpreter string
	scriptPath  string
	modelPath   string
	timeout     time.Duration
}

// NewScript creates a provider backed by an inference script. The script must
// exist; the model path is optional and passed through as the only argument.
func NewScript(id, interpreter, scriptPath, modelPath string, timeout time.Duration) (*Script, error) {
	if interpreter == "" {
		return nil, fmt.Errorf("script interpreter is required")
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("inference script %s: %w", scriptPath, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Script{
		id:          id,
		interpreter: interpreter,
		scriptPath:  scriptPath,
		modelPath:   modelPath,
		timeout:     timeout,
	}, nil
}

func (s *Script) ID() string { return s.id }

func (s *Script) Predict(ctx context.Context, features []float64) ([]float64, error) {
	if err := validateFeatures(features, 0); err != nil {
		return nil, err
	}

	reqJSON, err := json.Marshal(ScriptRequest{Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{s.scriptPath}
	if s.modelPath != "" {
		args = append(args, s.modelPath)
	}
	cmd := exec.CommandContext(ctx, s.interpreter, args...)
	cmd.Stdin = bytes.NewReader(reqJSON)
	cmd.WaitDelay = scriptWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Error().
			Err(err).
			Str("model_id", s.id).
			Str("interpreter", s.interpreter).
			Str("script_path", s.scriptPath).
			Str("stderr", strings.TrimSpace(stderr.String())).
			Dur("timeout", s.timeout).
			Bool("context_cancelled", ctx.Err() != nil).
			Msg("Inference script execution failed")

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrScriptFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v, stderr: %s", ErrScriptFailed, err, strings.TrimSpace(stderr.String()))
	}

	var resp ScriptResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("%w: unparseable output: %v", ErrScriptFailed, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrScriptFailed, resp.Error)
	}
	if len(resp.Probabilities) == 0 {
		return nil, fmt.Errorf("%w: no probabilities returned", ErrScriptFailed)
	}
	for i, prob := range resp.Probabilities {
		if math.IsNaN(prob) || prob < 0 || prob > 1 {
			return nil, fmt.Errorf("%w: invalid probability %d: %f", ErrScriptFailed, i, prob)
		}
	}

	log.Debug().
		Str("model_id", s.id).
		Floats64("probabilities", resp.Probabilities).
		Msg("Script prediction successful")

	return resp.Probabilities, nil
}
