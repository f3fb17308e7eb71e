package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"

	maxIngestBodyBytes = 8 << 20
)

var ErrNoIngestSecret = errors.New("auth: ingest secret is empty")

// IngestAuthMiddleware authenticates edge nodes with an HMAC-SHA256 over
// "<unix seconds>\n<body>", keyed by a secret shared with the fleet.
type IngestAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
	now     func() time.Time
}

// NewIngestAuthMiddleware constructs ingest auth middleware. A zero maxSkew
// disables the timestamp window.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secret: secret, MaxSkew: maxSkew, now: time.Now}
}

// Wrap rejects unsigned, stale or mis-signed requests with 401 and hands the
// buffered body on to next.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Secret) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		timestamp := strings.TrimSpace(r.Header.Get(HeaderIngestTimestamp))
		signature := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderIngestSignature)))
		if timestamp == "" || signature == "" {
			http.Error(w, "missing ingest signature", http.StatusUnauthorized)
			return
		}
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			http.Error(w, "invalid ingest timestamp", http.StatusUnauthorized)
			return
		}
		if m.MaxSkew > 0 && absDuration(m.clock().Sub(time.Unix(ts, 0))) > m.MaxSkew {
			http.Error(w, "ingest signature expired", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBodyBytes))
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}

		if !hmac.Equal([]byte(signature), []byte(SignIngest(m.Secret, timestamp, body))) {
			http.Error(w, "invalid ingest signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// SignIngest returns the lowercase hex signature for timestamp and body.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest sets the ingest headers on an outgoing request carrying body.
func SignRequest(req *http.Request, secret []byte, body []byte, at time.Time) error {
	if len(secret) == 0 {
		return ErrNoIngestSecret
	}
	timestamp := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set(HeaderIngestTimestamp, timestamp)
	req.Header.Set(HeaderIngestSignature, SignIngest(secret, timestamp, body))
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
