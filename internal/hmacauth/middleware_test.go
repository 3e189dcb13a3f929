package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"reason":"operator"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", strings.NewReader(body))
	req.Header.Set(HeaderSignature, Sign("secret", ts, http.MethodPost, "/api/v1/stop", []byte(body)))
	req.Header.Set(HeaderTimestamp, ts)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	})

	fixedVerifier(now).Middleware(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seen, "body must be readable downstream")
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", strings.NewReader(`{}`))
	req.Header.Set(HeaderSignature, "deadbeef")
	req.Header.Set(HeaderTimestamp, ts)
	rec := httptest.NewRecorder()

	fixedVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidSignature.Error())
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	require.NoError(t, SignRequest(req, "secret", now.Add(-2*time.Minute)))
	rec := httptest.NewRecorder()

	fixedVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrStaleTimestamp.Error())
}

func TestMiddleware_RejectsMissingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	rec := httptest.NewRecorder()

	fixedVerifier(time.Now()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrMissingSignature.Error())
}

func TestSignRequestRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", strings.NewReader(`{"a":1}`))
	require.NoError(t, SignRequest(req, "secret", now))

	rec := httptest.NewRecorder()
	called := false
	fixedVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rec, req)
	assert.True(t, called)
}

func TestSignatureBoundToRoute(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signed := httptest.NewRequest(http.MethodPost, "/api/v1/health", strings.NewReader(`{}`))
	require.NoError(t, SignRequest(signed, "secret", now))

	replayed := httptest.NewRequest(http.MethodPost, "/api/v1/stop", strings.NewReader(`{}`))
	replayed.Header = signed.Header.Clone()

	err := fixedVerifier(now).Verify(replayed)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyAcceptsUppercaseHex(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, strings.ToUpper(Sign("secret", ts, http.MethodPost, "/api/v1/stop", nil)))

	assert.NoError(t, fixedVerifier(now).Verify(req))
}

func TestVerifyRejectsNonHexSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(HeaderSignature, "not-hex")

	assert.ErrorIs(t, fixedVerifier(now).Verify(req), ErrInvalidSignature)
}

func TestEmptySecretDisablesVerification(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
	assert.NoError(t, v.Verify(req))
}
