package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelServer exposes one provider to peer nodes over HTTP.
type ModelServer struct {
	provider Provider
	timeout  time.Duration
	server   *http.Server
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Features []float64 `json:"features"`
}

// PredictResponse is the answer a peer receives from POST /predict.
type PredictResponse struct {
	ModelID    string    `json:"model_id"`
	Prediction []float64 `json:"prediction"`
}

// NewModelServer creates a model server for provider listening on port.
func NewModelServer(provider Provider, port int, timeout time.Duration) *ModelServer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ms := &ModelServer{
		provider: provider,
		timeout:  timeout,
	}

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ms.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

// Handler returns the HTTP routes of the server.
func (ms *ModelServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict", ms.handlePredict)
	mux.HandleFunc("/health", ms.handleHealth)
	return mux
}

// Start begins serving HTTP requests
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Str("model_id", ms.provider.ID()).Msg("starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Features) == 0 {
		http.Error(w, "features cannot be empty", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	prediction, err := ms.provider.Predict(ctx, req.Features)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrInvalidFeatures):
			status = http.StatusBadRequest
		case errors.Is(err, ErrNotTrained):
			status = http.StatusServiceUnavailable
		}
		log.Error().Err(err).Str("model_id", ms.provider.ID()).Msg("prediction failed")
		http.Error(w, fmt.Sprintf("prediction failed: %v", err), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PredictResponse{
		ModelID:    ms.provider.ID(),
		Prediction: prediction,
	})
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "healthy",
		"model_id": ms.provider.ID(),
	})
}
