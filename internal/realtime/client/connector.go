package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"greenhouse-cloud/internal/credential"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/observability/metrics"
	"greenhouse-cloud/internal/realtime"
)

const (
	defaultCredentialWait = 5 * time.Second
	defaultDialTimeout    = 30 * time.Second
	defaultMaxDialElapsed = 30 * time.Second
	writeWait             = 10 * time.Second
	maxMessageSize        = 512 * 1024
)

var (
	ErrNoURL             = errors.New("realtime client: url is required")
	ErrNilCredentials    = errors.New("realtime client: nil credentials")
	ErrNoCredential      = errors.New("realtime client: no credential available")
	ErrCredentialRevoked = errors.New("realtime client: credential revoked")
	ErrClosed            = errors.New("realtime client: connector closed")
)

// Credentials yields observers of the current access token.
type Credentials interface {
	Subscribe() *credential.Observer
}

// MessageHandler receives every broadcast message. It runs on the read loop.
type MessageHandler func(msg realtime.Message)

// Config configures a Connector.
type Config struct {
	// URL is the ws:// or wss:// address of the realtime websocket endpoint.
	URL      string
	Channels []string
	Handler  MessageHandler
	Logger   logging.Logger
	Dialer   *websocket.Dialer
	// CredentialWait bounds how long an attempt waits for a token to appear.
	CredentialWait time.Duration
	BackOff        func() backoff.BackOff
}

// Connector maintains at most one realtime session at a time.
type Connector struct {
	cfg         Config
	credentials Credentials
	logger      logging.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	current  *Handle
	attempts int
	closed   bool
}

// NewConnector constructs a Connector.
func NewConnector(cfg Config, credentials Credentials) (*Connector, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if credentials == nil {
		return nil, ErrNilCredentials
	}
	if cfg.Dialer == nil {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = defaultDialTimeout
		cfg.Dialer = &dialer
	}
	if cfg.CredentialWait <= 0 {
		cfg.CredentialWait = defaultCredentialWait
	}
	if cfg.BackOff == nil {
		cfg.BackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = defaultMaxDialElapsed
			return b
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		cfg:         cfg,
		credentials: credentials,
		logger:      logging.OrDiscard(cfg.Logger),
		baseCtx:     ctx,
		baseCancel:  cancel,
	}, nil
}

// EnsureStarted returns the live handle when a session is connecting or
// connected, and starts a new attempt otherwise. It never blocks.
func (c *Connector) EnsureStarted() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && !c.current.finished() {
		return c.current
	}
	h := newHandle(c.baseCtx)
	if c.closed {
		h.finish(ErrClosed)
		return h
	}
	c.current = h
	c.attempts++
	go c.run(h)
	return h
}

// Attempts returns how many sessions have been started.
func (c *Connector) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Close ends any session and refuses further attempts.
func (c *Connector) Close() {
	c.mu.Lock()
	c.closed = true
	current := c.current
	c.mu.Unlock()

	c.baseCancel()
	if current != nil {
		<-current.Done()
	}
}

func (c *Connector) run(h *Handle) {
	obs := c.credentials.Subscribe()
	defer obs.Close()

	token, err := c.awaitToken(h.ctx, obs)
	if err != nil {
		h.finish(err)
		return
	}

	conn, err := c.dial(h.ctx, token)
	if err != nil {
		metrics.IncRealtimeConnect(false)
		h.finish(err)
		return
	}
	metrics.IncRealtimeConnect(true)
	h.markConnected()
	c.logger.WithFields(logging.Fields{
		"url":      c.cfg.URL,
		"channels": c.cfg.Channels,
	}).Info("realtime connected")

	h.finish(c.session(h.ctx, conn, obs))
}

func (c *Connector) awaitToken(ctx context.Context, obs *credential.Observer) (string, error) {
	if v := obs.Current(); v.Present {
		return v.Token, nil
	}
	timer := time.NewTimer(c.cfg.CredentialWait)
	defer timer.Stop()
	for {
		select {
		case v, ok := <-obs.Values():
			if !ok {
				return "", ErrNoCredential
			}
			if v.Present {
				return v.Token, nil
			}
		case <-timer.C:
			return "", ErrNoCredential
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *Connector) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)

	var conn *websocket.Conn
	op := func() error {
		var resp *http.Response
		var err error
		conn, resp, err = c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
		if err == nil {
			return nil
		}
		if resp != nil {
			err = fmt.Errorf("realtime client: dial (status: %d): %w", resp.StatusCode, err)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return backoff.Permanent(err)
			}
			return err
		}
		return fmt.Errorf("realtime client: dial: %w", err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logging.Fields{
			"error": err.Error(),
			"retry": wait.String(),
		}).Warn("realtime dial failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.cfg.BackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Connector) session(ctx context.Context, conn *websocket.Conn, obs *credential.Observer) error {
	defer conn.Close()

	if len(c.cfg.Channels) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		sub := realtime.SubscriptionMessage{Action: realtime.ActionSubscribe, Channels: c.cfg.Channels}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("realtime client: subscribe: %w", err)
		}
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn)
	}()

	closeConn := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
		<-readErr
	}

	for {
		select {
		case err := <-readErr:
			return err
		case v, ok := <-obs.Values():
			if ok && v.Present {
				continue
			}
			c.logger.Info("realtime credential revoked, closing session")
			closeConn()
			return ErrCredentialRevoked
		case <-ctx.Done():
			closeConn()
			return ctx.Err()
		}
	}
}

func (c *Connector) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("realtime client: read: %w", err)
		}
		if msg.Channel == "" {
			c.logger.WithField("type", msg.Type).Debug("realtime control message")
			continue
		}
		if c.cfg.Handler != nil {
			c.cfg.Handler(msg)
		}
	}
}
