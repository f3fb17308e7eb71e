package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"greenhouse-cloud/internal/credential"
	fleet "greenhouse-cloud/internal/fleet/domain"
	fleethttp "greenhouse-cloud/internal/fleet/interfaces/http"
)

const (
	listPath        = "/api/v1/greenhouses"
	maxListBytes    = 4 << 20
	defaultTimeout  = 10 * time.Second
	defaultFailures = 3
	defaultOpen     = 15 * time.Second
	defaultInterval = time.Minute
)

var (
	ErrNoBaseURL    = errors.New("fleet client: base url is required")
	ErrNilTokens    = errors.New("fleet client: nil token source")
	ErrNoCredential = errors.New("fleet client: not logged in")
	ErrUnauthorized = errors.New("fleet client: credential rejected")
)

// TokenGetter reads the current credential.
type TokenGetter interface {
	Get(ctx context.Context) (credential.Value, error)
}

// BreakerConfig tunes the circuit breaker around the list call.
type BreakerConfig struct {
	Failures uint32
	Open     time.Duration
	Interval time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.http = c
		}
	}
}

// WithBreaker overrides the breaker settings. Zero fields keep defaults.
func WithBreaker(cfg BreakerConfig) Option {
	return func(f *Fetcher) {
		if cfg.Failures > 0 {
			f.breaker.Failures = cfg.Failures
		}
		if cfg.Open > 0 {
			f.breaker.Open = cfg.Open
		}
		if cfg.Interval > 0 {
			f.breaker.Interval = cfg.Interval
		}
	}
}

// Fetcher lists greenhouses from the cloud API.
type Fetcher struct {
	baseURL string
	tokens  TokenGetter
	http    *http.Client
	breaker BreakerConfig
	cb      *gobreaker.CircuitBreaker
}

// NewFetcher constructs a Fetcher that authenticates with the stored credential.
func NewFetcher(baseURL string, tokens TokenGetter, opts ...Option) (*Fetcher, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if tokens == nil {
		return nil, ErrNilTokens
	}
	f := &Fetcher{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: defaultTimeout},
		breaker: BreakerConfig{Failures: defaultFailures, Open: defaultOpen, Interval: defaultInterval},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.cb = newBreaker("fleet-api", f.breaker)
	return f, nil
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.Open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled)
		},
	})
}

// State reports the breaker state.
func (f *Fetcher) State() gobreaker.State {
	return f.cb.State()
}

// List fetches the greenhouses visible to the stored credential.
func (f *Fetcher) List(ctx context.Context) ([]fleet.Greenhouse, error) {
	value, err := f.tokens.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fleet client: read credential: %w", err)
	}
	if !value.Present {
		return nil, ErrNoCredential
	}

	res, err := f.cb.Execute(func() (any, error) {
		return f.get(ctx, value.Token)
	})
	if err != nil {
		return nil, err
	}
	return res.([]fleet.Greenhouse), nil
}

func (f *Fetcher) get(ctx context.Context, token string) ([]fleet.Greenhouse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+listPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fleet client: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out fleethttp.ListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxListBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("fleet client: decode: %w", err)
	}
	if out.Greenhouses == nil {
		out.Greenhouses = []fleet.Greenhouse{}
	}
	return out.Greenhouses, nil
}
