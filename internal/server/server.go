package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"mintwatch/internal/chain"
	"mintwatch/internal/hmacauth"
	"mintwatch/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	Addr            string
	AdminHMACSecret string
	HMACClockSkew   time.Duration
}

// Server exposes health, metrics and an authenticated stop endpoint while the minter runs.
type Server struct {
	cfg         Config
	log         *zap.Logger
	admin       *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metrics.Registry
	rpcHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error
	stop        func()
	stopOnce    sync.Once
}

// NewServer wires the routes. client and ledger are checked for Ping support;
// stop is called at most once when a signed stop request arrives.
func NewServer(cfg Config, log *zap.Logger, reg *metrics.Registry, client chain.Client, ledger any, stop func()) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg: cfg,
		log: log,
		admin: &hmacauth.Verifier{
			Secret:  cfg.AdminHMACSecret,
			MaxSkew: cfg.HMACClockSkew,
		},
		metrics: reg,
		stop:    stop,
	}

	if checker, ok := client.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := ledger.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	if reg != nil {
		mux.Handle("/api/v1/metrics", reg.Handler())
	}
	mux.Handle("/api/v1/stop", s.admin.Middleware(http.HandlerFunc(s.handleStop)))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("status server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type stopResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AdminHMACSecret == "" {
		http.Error(w, "stop endpoint disabled", http.StatusForbidden)
		return
	}

	status := "already stopping"
	s.stopOnce.Do(func() {
		status = "stopping"
		s.log.Warn("stop requested via status server", zap.String("request_id", r.Header.Get("X-Request-Id")))
		if s.stop != nil {
			s.stop()
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(stopResponse{Status: status})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status string      `json:"status"`
		RPC    interface{} `json:"rpc"`
		Ledger interface{} `json:"ledger"`
	}{
		Status: status,
		RPC:    rpcInfo,
		Ledger: dbInfo,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}
