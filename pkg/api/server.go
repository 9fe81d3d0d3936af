// Package api serves the facilitator's HTTP surface: the settle and
// validate endpoints, queue inspection, health and readiness checks and
// the Prometheus metrics handler.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultpay-hq/facilitator/pkg/chainclient"
	"github.com/vaultpay-hq/facilitator/pkg/facilitator"
	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/models"
	"github.com/vaultpay-hq/facilitator/pkg/queue"
)

// Server is the facilitator HTTP server.
type Server struct {
	port       string
	metricsKey string
	registry   *facilitator.Registry
	settler    *facilitator.Settler
	queue      *queue.Queue
	clients    map[int]*chainclient.Client
	log        logger.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server over an assembled facilitator. The
// clients map may be nil when no chain status reporting is wanted.
func NewServer(port, metricsKey string, registry *facilitator.Registry, settler *facilitator.Settler, q *queue.Queue, clients map[int]*chainclient.Client, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		port:       port,
		metricsKey: metricsKey,
		registry:   registry,
		settler:    settler,
		queue:      q,
		clients:    clients,
		log:        log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/settle", s.handlePayment)
	mux.HandleFunc("/validate-intent", s.handlePayment)
	mux.HandleFunc("/settle-batch", s.handleSettleBatch)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit/reset", s.handleCircuitReset)
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// MetricsHandler builds the internal route table for the metrics port:
// just the health check and the Prometheus endpoint, so scraping never
// has to touch the payment surface.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         ":" + s.port,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	s.log.Info("Starting API server on port %s", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %v", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handlePayment decodes a payment payload and dispatches it through the
// scheme registry. Both the exact and the deferred endpoint accept the
// same envelope; the scheme tag selects the handler, so a deferred
// payload posted to /settle behaves identically to /validate-intent.
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload models.PaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	result, err := s.registry.Process(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSettleBatch triggers one settler pass and reports its outcome.
func (s *Server) handleSettleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.settler.Run(r.Context()))
}

type queueResponse struct {
	Stats   models.QueueStats    `json:"stats"`
	Pending []models.QueueRecord `json:"pending"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Stats:   s.queue.Stats(),
		Pending: s.queue.GetPending(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether every configured chain client is connected.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	for chainID, client := range s.clients {
		if client == nil || client.Client == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain %d client not connected", chainID)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// handleStatus reports per-chain connectivity, vault address and breaker
// state plus queue depth.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]interface{})
	breakers := s.settler.Breakers()

	for chainID, client := range s.clients {
		circuitStatus := "closed"
		if breaker, ok := breakers[chainID]; ok && breaker.IsOpen() {
			circuitStatus = "open"
		}

		chainStatus := map[string]interface{}{
			"rpc_url":       client.RPCURL,
			"vault_address": client.VaultAddress,
			"token_address": client.TokenAddress,
			"connected":     client.Client != nil,
			"circuit":       circuitStatus,
			"nonces_cached": s.settler.CachedNonces(chainID),
		}
		if client.Client != nil {
			if blockNumber, err := client.GetLatestBlockNumber(r.Context()); err == nil {
				chainStatus["latest_block"] = blockNumber
			}
		}
		status[fmt.Sprintf("chain_%d", chainID)] = chainStatus
	}
	status["queue"] = s.queue.Stats()

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitReset manually closes the circuit breaker for one chain.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chainIDStr := r.URL.Query().Get("chain")
	if chainIDStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing chain parameter"))
		return
	}
	chainID, err := strconv.Atoi(chainIDStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid chain ID"))
		return
	}

	if !s.settler.ResetBreaker(chainID) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for chain %d", chainID)))
		return
	}
	s.log.NoticeWithChain(chainID, "Circuit breaker manually reset")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for chain %d reset", chainID)))
}

// metricsAuthMiddleware checks for a valid bearer key on the metrics
// endpoint. No configured key means open access.
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.metricsKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
