// Package messaging provides the NATS client shared by Drift services. It
// carries the boundary between the matchmaking engine and its collaborators:
// the dialogue front-end sends join/cancel/leave requests and subscribes to
// match results and fallback events; the moderation service publishes
// evictions.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Drift services.
const (
	SubjectMatchRequest  = "match.request"
	SubjectMatchCancel   = "match.cancel"
	SubjectMatchFound    = "match.found"    // + .<user_id>
	SubjectMatchFallback = "match.fallback" // + .<user_id>
	SubjectChatLeave     = "chat.leave"
	SubjectChatEnded     = "chat.ended" // + .<user_id>
	SubjectChatReport    = "chat.report"
	SubjectRelayTyping   = "relay.typing"  // + .<user_id>
	SubjectRelayMessage  = "relay.message" // + .<user_id>
	SubjectModEvict      = "moderation.evict"
)

// JoinRequest is published by the front-end when a user starts searching.
type JoinRequest struct {
	UserID string `json:"user_id"`
}

// CancelRequest is published when a user cancels their search.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// LeaveRequest is published when a user ends their session.
type LeaveRequest struct {
	UserID string `json:"user_id"`
}

// MatchFound is delivered on match.found.<user_id> to both parties of a new
// session. Rescued is true for the searcher who displaced the synthetic
// partner, and RescuedFrom is true for the user who was displaced.
type MatchFound struct {
	PairID      string `json:"pair_id"`
	PartnerID   string `json:"partner_id"`
	Rescued     bool   `json:"rescued,omitempty"`
	RescuedFrom bool   `json:"rescued_from,omitempty"`
	Failed      bool   `json:"failed,omitempty"` // join could not run; retry later
}

// FallbackEvent is delivered on match.fallback.<user_id> when the scheduler
// promotes a waiting user into a synthetic session. The front-end coerces
// its own dialogue state to "in conversation" on receipt.
type FallbackEvent struct {
	UserID string `json:"user_id"`
}

// ChatEnded is delivered on chat.ended.<user_id> when the other party of a
// session leaves, so the front-end returns the survivor to its menu.
type ChatEnded struct {
	PartnerID string `json:"partner_id"`
}

// RelayMessage is a text payload the engine asks the front-end to deliver.
type RelayMessage struct {
	Text string `json:"text"`
}

// EvictRequest is published by the moderation service to force a banned
// user out of any queue they occupy.
type EvictRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// ReportRequest is published by the front-end when a user reports their
// partner.
type ReportRequest struct {
	ReporterID string `json:"reporter_id"`
	ReportedID string `json:"reported_id"`
	Reason     string `json:"reason"`
}

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "drift",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// publishJSON marshals v and publishes it to the subject.
func (c *Client) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats: marshal for %s: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeJoinRequest subscribes to join requests from the front-end.
func (c *Client) SubscribeJoinRequest(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchRequest, handler)
}

// SubscribeCancelRequest subscribes to search cancellations.
func (c *Client) SubscribeCancelRequest(handler func(data []byte)) error {
	return c.Subscribe(SubjectMatchCancel, handler)
}

// SubscribeLeaveRequest subscribes to session-leave requests.
func (c *Client) SubscribeLeaveRequest(handler func(data []byte)) error {
	return c.Subscribe(SubjectChatLeave, handler)
}

// SubscribeEvict subscribes to moderation eviction requests.
func (c *Client) SubscribeEvict(handler func(data []byte)) error {
	return c.Subscribe(SubjectModEvict, handler)
}

// SubscribeReport subscribes to abuse reports from the front-end.
func (c *Client) SubscribeReport(handler func(data []byte)) error {
	return c.Subscribe(SubjectChatReport, handler)
}

// PublishMatchFound delivers a match result to one user.
func (c *Client) PublishMatchFound(userID string, result MatchFound) error {
	return c.publishJSON(SubjectMatchFound+"."+userID, result)
}

// PublishChatEnded informs a user that their partner left the session.
func (c *Client) PublishChatEnded(userID string, event ChatEnded) error {
	return c.publishJSON(SubjectChatEnded+"."+userID, event)
}

// PublishEvict asks the engine to evict a user from any queue they occupy.
func (c *Client) PublishEvict(userID, reason string) error {
	return c.publishJSON(SubjectModEvict, EvictRequest{UserID: userID, Reason: reason})
}

// FallbackEstablished announces that the scheduler paired a user with the
// synthetic partner. Satisfies fallback.Events.
func (c *Client) FallbackEstablished(_ context.Context, userID string) error {
	return c.publishJSON(SubjectMatchFallback+"."+userID, FallbackEvent{UserID: userID})
}

// SendTyping asks the front-end to show a typing indicator to the user.
// Satisfies fallback.Notifier.
func (c *Client) SendTyping(_ context.Context, userID string) error {
	return c.Publish(SubjectRelayTyping+"."+userID, nil)
}

// SendMessage asks the front-end to deliver a text message to the user.
// Satisfies fallback.Notifier.
func (c *Client) SendMessage(_ context.Context, userID, text string) error {
	return c.publishJSON(SubjectRelayMessage+"."+userID, RelayMessage{Text: text})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
