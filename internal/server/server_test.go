package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mintwatch/internal/chain"
	"mintwatch/internal/hmacauth"
	"mintwatch/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type pingStub struct {
	err error
}

func (p pingStub) Ping(context.Context) error { return p.err }

type failingClient struct {
	*chain.FakeClient
}

func (failingClient) Ping(context.Context) error { return errors.New("rpc unreachable") }

func newTestServer(t *testing.T, client chain.Client, ledger any, stop func()) *Server {
	t.Helper()
	return NewServer(Config{
		Addr:            ":0",
		AdminHMACSecret: "admin-secret",
		HMACClockSkew:   time.Minute,
	}, zaptest.NewLogger(t), metrics.NewRegistry(), client, ledger, stop)
}

func TestHealthHealthy(t *testing.T) {
	srv := newTestServer(t, chain.NewFakeClient(), pingStub{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestServer(t, failingClient{chain.NewFakeClient()}, pingStub{err: errors.New("db down")}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "rpc unreachable")
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.IncReadiness("not_ready")
	srv := NewServer(Config{Addr: ":0"}, nil, reg, chain.NewFakeClient(), nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mintwatch_readiness_checks_total")
}

func TestStopRequiresSignature(t *testing.T) {
	var stops atomic.Int32
	srv := newTestServer(t, chain.NewFakeClient(), nil, func() { stops.Add(1) })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stop", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, stops.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	var stops atomic.Int32
	srv := newTestServer(t, chain.NewFakeClient(), nil, func() { stops.Add(1) })

	for i, want := range []string{"stopping", "already stopping"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", strings.NewReader(`{"reason":"test"}`))
		require.NoError(t, hmacauth.SignRequest(req, "admin-secret", time.Now()))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code, "request %d", i)
		var body stopResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, want, body.Status)
	}
	assert.Equal(t, int32(1), stops.Load())
}

func TestStopDisabledWithoutSecret(t *testing.T) {
	srv := NewServer(Config{Addr: ":0"}, nil, nil, chain.NewFakeClient(), nil, func() {
		t.Fatal("stop must not be called")
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStopRejectsGet(t *testing.T) {
	srv := newTestServer(t, chain.NewFakeClient(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stop", nil)
	require.NoError(t, hmacauth.SignRequest(req, "admin-secret", time.Now()))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
