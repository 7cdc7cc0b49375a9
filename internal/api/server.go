// Package api exposes the consensus node over HTTP: consensus predictions,
// peer registration, ledger inspection and a websocket stream of ledger
// transactions.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"stake-consensus/internal/common"
	"stake-consensus/internal/consensus"
	"stake-consensus/internal/dataset"
	"stake-consensus/internal/ledger"
	"stake-consensus/internal/metrics"
)

// MetricsInterface defines metrics methods needed by the API
type MetricsInterface interface {
	HTTPRequests() metrics.MetricsCounter
	RateLimited() metrics.MetricsCounter
}

// TrainingSource returns the labelled data POST /train fits the local models on.
type TrainingSource func() (*dataset.Dataset, error)

// Config holds the API server settings.
type Config struct {
	Port int
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server is the node's public HTTP API.
type Server struct {
	ledger   *ledger.Ledger
	agg      *consensus.Aggregator
	training TrainingSource
	metrics  MetricsInterface
	limiter  *rate.Limiter
	hub      *Hub
	router   *mux.Router
	server   *http.Server
}

// NewServer wires the routes. training and m may be nil.
func NewServer(l *ledger.Ledger, agg *consensus.Aggregator, training TrainingSource, m MetricsInterface, cfg Config) *Server {
	s := &Server{
		ledger:   l,
		agg:      agg,
		training: training,
		metrics:  m,
		hub:      NewHub(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	l.Subscribe(s.hub.Publish)

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/predict", s.handlePredict).Methods("POST")
	r.HandleFunc("/train", s.handleTrain).Methods("POST")
	r.HandleFunc("/register_peer", s.handleRegisterPeer).Methods("POST")
	r.HandleFunc("/register_model", s.handleRegisterModel).Methods("POST")
	r.HandleFunc("/peers", s.handlePeers).Methods("GET")
	r.HandleFunc("/list_models", s.handleListModels).Methods("GET")
	r.HandleFunc("/model_info/{model_id}", s.handleModelInfo).Methods("GET")
	r.HandleFunc("/transactions", s.handleTransactions).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(s.countRequests, s.rateLimit)
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the websocket broadcaster and serves HTTP until Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	log.Info().Str("addr", s.server.Addr).Msg("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown stops the websocket hub and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.server.Shutdown(ctx)
}

// Routes lists every registered path with its methods.
func (s *Server) Routes() map[string][]string {
	routes := make(map[string][]string)
	s.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		routes[path] = append(routes[path], methods...)
		sort.Strings(routes[path])
		return nil
	})
	return routes
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.HTTPRequests().Inc()
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			if s.metrics != nil {
				s.metrics.RateLimited().Inc()
			}
			writeError(w, http.StatusTooManyRequests, common.ErrMsgRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
