package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Request-Signature"
	HeaderTimestamp = "X-Request-Timestamp"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// Verifier authenticates admin requests signed with HMAC-SHA256 over
// timestamp, method, path and body. An empty Secret disables it.
type Verifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Verify checks r's signature headers. The body stays readable afterwards.
func (v *Verifier) Verify(r *http.Request) error {
	if v.Secret == "" {
		return nil
	}

	got, err := hex.DecodeString(r.Header.Get(HeaderSignature))
	if err != nil || len(got) == 0 {
		if r.Header.Get(HeaderSignature) == "" {
			return ErrMissingSignature
		}
		return ErrInvalidSignature
	}

	ts := r.Header.Get(HeaderTimestamp)
	signedAt, err := parseTimestamp(ts)
	if err != nil {
		return err
	}
	if !v.fresh(signedAt) {
		return ErrStaleTimestamp
	}

	body, err := bufferBody(r)
	if err != nil {
		return err
	}
	if !hmac.Equal(got, mac(v.Secret, ts, r.Method, r.URL.Path, body)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) fresh(signedAt time.Time) bool {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.MaxSkew
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrMissingTimestamp
	}
	return time.Unix(secs, 0), nil
}

func mac(secret, timestamp, method, path string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	for _, part := range []string{timestamp, method, path} {
		h.Write([]byte(part))
		h.Write([]byte{'\n'})
	}
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the hex signature a request with these fields must carry.
func Sign(secret, timestamp, method, path string, body []byte) string {
	return hex.EncodeToString(mac(secret, timestamp, method, path, body))
}

// SignRequest stamps an outgoing request with timestamp and signature headers.
func SignRequest(r *http.Request, secret string, now time.Time) error {
	body, err := bufferBody(r)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, Sign(secret, ts, r.Method, r.URL.Path, body))
	return nil
}

// bufferBody reads the body and replaces it with a rewindable copy.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if r.GetBody == nil {
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return body, nil
}
