package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"greenhouse-cloud/internal/auth"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var ErrNilHub = errors.New("realtime http: nil hub")

// ChannelAuthorizer decides whether identity may join channel.
type ChannelAuthorizer func(identity auth.Identity, channel string) error

// WSHandler serves GET /api/v1/realtime/ws.
type WSHandler struct {
	hub       *realtime.Hub
	authorize ChannelAuthorizer
	logger    logging.Logger
	upgrader  websocket.Upgrader
	origins   []string
}

// WSOption customizes a WSHandler.
type WSOption func(*WSHandler)

// WithAllowedOrigins admits browser origins besides the serving host, e.g.
// "https://ops.example.com". Requests without an Origin header are always
// admitted; "*" admits any origin.
func WithAllowedOrigins(origins ...string) WSOption {
	return func(h *WSHandler) {
		for _, origin := range origins {
			if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
				h.origins = append(h.origins, strings.ToLower(origin))
			}
		}
	}
}

// NewWSHandler constructs a websocket handler. A nil authorizer uses auth.AuthorizeChannel.
func NewWSHandler(hub *realtime.Hub, authorize ChannelAuthorizer, logger logging.Logger, opts ...WSOption) (*WSHandler, error) {
	if hub == nil {
		return nil, ErrNilHub
	}
	if authorize == nil {
		authorize = auth.AuthorizeChannel
	}
	h := &WSHandler{
		hub:       hub,
		authorize: authorize,
		logger:    logging.OrDiscard(logger),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.WithField("origin", origin).Warn("websocket origin rejected")
	return false
}

// ServeHTTP upgrades the connection and runs the read and write pumps.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := h.hub.Register()
	c := &wsClient{
		handler:  h,
		conn:     conn,
		sub:      sub,
		identity: identity,
		replies:  make(chan []byte, 8),
		done:     make(chan struct{}),
	}
	h.logger.WithFields(logging.Fields{
		"subscriber": sub.ID(),
		"subject":    identity.Subject,
	}).Info("realtime websocket connected")

	go c.writePump()
	c.readPump()
}

type wsClient struct {
	handler  *WSHandler
	conn     *websocket.Conn
	sub      *realtime.Subscriber
	identity auth.Identity
	replies  chan []byte
	done     chan struct{}
}

func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.handler.hub.Unregister(c.sub)
		_ = c.conn.Close()
		c.handler.logger.WithField("subscriber", c.sub.ID()).Info("realtime websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.handler.logger.WithError(err).Warn("realtime websocket read error")
			}
			return
		}
		var msg realtime.SubscriptionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(realtime.SubscriptionReply{Type: realtime.TypeError, Rejected: map[string]string{"": "invalid subscription message"}})
			continue
		}
		c.handleSubscription(msg)
	}
}

func (c *wsClient) handleSubscription(msg realtime.SubscriptionMessage) {
	hub := c.handler.hub
	switch msg.Action {
	case realtime.ActionSubscribe:
		rejected := make(map[string]string)
		allowed := make([]string, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			if err := c.handler.authorize(c.identity, ch); err != nil {
				rejected[ch] = err.Error()
				continue
			}
			allowed = append(allowed, ch)
		}
		hub.Join(c.sub, allowed...)
		c.handler.logger.WithFields(logging.Fields{
			"subscriber": c.sub.ID(),
			"channels":   allowed,
			"rejected":   len(rejected),
		}).Info("realtime client subscribed")
		reply := realtime.SubscriptionReply{Type: realtime.TypeSubscriptionConfirmed, Channels: hub.Channels(c.sub)}
		if len(rejected) > 0 {
			reply.Rejected = rejected
		}
		c.reply(reply)
	case realtime.ActionUnsubscribe:
		hub.Leave(c.sub, msg.Channels...)
		c.reply(realtime.SubscriptionReply{Type: realtime.TypeUnsubscriptionConfirmed, Channels: hub.Channels(c.sub)})
	default:
		c.reply(realtime.SubscriptionReply{Type: realtime.TypeError, Rejected: map[string]string{"": "unknown action"}})
	}
}

func (c *wsClient) reply(reply realtime.SubscriptionReply) {
	if reply.Channels == nil {
		reply.Channels = []string{}
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	select {
	case c.replies <- payload:
	case <-c.done:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	messages := c.sub.Messages()
	for {
		select {
		case payload, ok := <-messages:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-c.replies:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
