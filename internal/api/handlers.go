package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"stake-consensus/internal/common"
	"stake-consensus/internal/consensus"
	"stake-consensus/internal/ledger"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type predictRequest struct {
	Features     []float64       `json:"features"`
	IncludePeers *bool           `json:"include_peers,omitempty"`
	TrueValue    json.RawMessage `json:"true_value,omitempty"`
	Detailed     bool            `json:"detailed,omitempty"`
}

type predictResponse struct {
	Status       string                  `json:"status"`
	Prediction   []float64               `json:"prediction"`
	Contributors []consensus.Contributor `json:"contributors,omitempty"`
}

type registerPeerRequest struct {
	PeerURL string `json:"peer_url"`
}

type registerModelRequest struct {
	ModelID string  `json:"model_id"`
	Stake   float64 `json:"stake,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Status: statusError, Message: message})
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, consensus.ErrNoEligibleModels), errors.Is(err, consensus.ErrShapeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidStake), errors.Is(err, ledger.ErrEmptyModelID),
		errors.Is(err, consensus.ErrInvalidTruth):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseTrueValue accepts a JSON number (broadcast to every class) or an
// array of numbers. Absent or null yields nil.
func parseTrueValue(raw json.RawMessage) ([]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var truth []float64
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &truth); err != nil {
			return nil, fmt.Errorf("%w: %v", consensus.ErrInvalidTruth, err)
		}
	} else {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: must be a number or an array of numbers", consensus.ErrInvalidTruth)
		}
		truth = []float64{v}
	}
	if len(truth) == 0 {
		return nil, fmt.Errorf("%w: empty", consensus.ErrInvalidTruth)
	}
	return truth, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "Server is running",
		"message":          "Welcome to the stake-weighted consensus node",
		"available_routes": s.Routes(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"timestamp":         time.Now(),
		"models":            len(s.ledger.ModelIDs()),
		"local_models":      s.agg.LocalModelIDs(),
		"peers":             len(s.agg.Peers()),
		"websocket_clients": s.hub.clientCount(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, common.ErrMsgInvalidJSON)
		return
	}
	if len(req.Features) == 0 {
		writeError(w, http.StatusBadRequest, common.ErrMsgFeaturesRequired)
		return
	}
	for _, f := range req.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			writeError(w, http.StatusBadRequest, "features must be finite numbers")
			return
		}
	}
	truth, err := parseTrueValue(req.TrueValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	includePeers := true
	if req.IncludePeers != nil {
		includePeers = *req.IncludePeers
	}

	round, err := s.agg.PredictDetailed(r.Context(), req.Features, includePeers)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	if truth != nil {
		outcomes := s.agg.RecordOutcome(r.Context(), req.Features, truth)
		recorded := 0
		for _, o := range outcomes {
			if o.Err == nil {
				recorded++
			}
		}
		log.Info().
			Int("recorded", recorded).
			Int("models", len(outcomes)).
			Msg("outcome recorded")
	}

	resp := predictResponse{Status: statusSuccess, Prediction: round.Prediction}
	if req.Detailed {
		resp.Contributors = round.Contributors
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if s.training == nil {
		writeError(w, http.StatusServiceUnavailable, common.ErrMsgNoDatasetAvailable)
		return
	}
	data, err := s.training()
	if err != nil {
		log.Error().Err(err).Msg("failed to load training data")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", common.ErrMsgNoDatasetAvailable, err))
		return
	}

	X, y := data.XY()
	trained, err := s.agg.Train(X, y)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", common.ErrMsgTrainingFailed, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  statusSuccess,
		"message": "Models trained successfully",
		"models":  trained,
		"samples": data.Len(),
	})
}

func (s *Server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req registerPeerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, common.ErrMsgInvalidJSON)
		return
	}
	if req.PeerURL == "" {
		writeError(w, http.StatusBadRequest, common.ErrMsgPeerURLRequired)
		return
	}

	msg := fmt.Sprintf("Peer %s registered successfully", req.PeerURL)
	if !s.agg.AddPeer(req.PeerURL) {
		msg = fmt.Sprintf("Peer %s already registered", req.PeerURL)
	}
	writeJSON(w, http.StatusOK, messageResponse{Status: statusSuccess, Message: msg})
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, common.ErrMsgInvalidJSON)
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, common.ErrMsgModelIDRequired)
		return
	}

	created, err := s.ledger.Register(req.ModelID, req.Stake)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	status := http.StatusCreated
	msg := fmt.Sprintf("Model %s registered", req.ModelID)
	if !created {
		status = http.StatusOK
		msg = fmt.Sprintf("Model %s already registered", req.ModelID)
	}
	writeJSON(w, status, map[string]interface{}{
		"status":  statusSuccess,
		"message": msg,
		"created": created,
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": statusSuccess,
		"peers":  s.agg.Peers(),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": statusSuccess,
		"models": s.ledger.ModelIDs(),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["model_id"]
	rec, ok := s.ledger.Model(id)
	if !ok {
		writeError(w, http.StatusNotFound, common.ErrMsgModelNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": statusSuccess,
		"data":   rec,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.ledger.Transactions()
	if id := r.URL.Query().Get("model_id"); id != "" {
		filtered := make([]ledger.Transaction, 0, len(txs))
		for _, tx := range txs {
			if tx.ModelID == id {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              statusSuccess,
		"transaction_history": txs,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, s.ledger.Transactions)
}
