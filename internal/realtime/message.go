package realtime

import (
	"encoding/json"
	"time"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeError                   = "error"
)

// Message is the envelope every subscriber receives.
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubscriptionMessage is sent by websocket clients to change their channels.
type SubscriptionMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// SubscriptionReply confirms a subscription change. Rejected maps a channel to
// the reason it was refused.
type SubscriptionReply struct {
	Type     string            `json:"type"`
	Channels []string          `json:"channels"`
	Rejected map[string]string `json:"rejected,omitempty"`
}
