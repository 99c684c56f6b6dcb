package gateway

import (
	"encoding/json"
)

// Server-initiated events
const (
	EventNotification       = "notification"
	EventNotificationUpdate = "notificationUpdate"
	EventUnreadCount        = "unreadCount"
	EventSubscriptionStatus = "subscriptionStatus"
	EventPong               = "pong"
	EventError              = "error"
)

// Client-initiated actions
const (
	ActionSubscribe             = "subscribe"
	ActionUnsubscribe           = "unsubscribe"
	ActionGetSubscriptionStatus = "getSubscriptionStatus"
	ActionPing                  = "ping"
)

// Envelope is the frame written to clients. Data is pre-encoded so the same frame can
// travel through Redis unchanged.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// IncomingMessage is a client action
type IncomingMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type unreadCountPayload struct {
	Count int64 `json:"count"`
}

type subscriptionStatusPayload struct {
	Subscribed bool `json:"subscribed"`
	Connected  bool `json:"connected"`
}

type errorPayload struct {
	Message string `json:"message"`
}
