package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeClient handles Supabase Realtime table change subscriptions.
type RealtimeClient struct {
	mu       sync.Mutex
	url      string
	conn     *websocket.Conn
	handlers map[string][]EventHandler
	joined   map[string]string
	done     chan struct{}
	ref      int

	// HeartbeatInterval defaults to 30s.
	HeartbeatInterval time.Duration
}

// EventHandler handles realtime events.
type EventHandler func(event *RealtimeEvent)

// RealtimeEvent is a Phoenix channel message.
type RealtimeEvent struct {
	Event   string         `json:"event"`
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
	Ref     string         `json:"ref"`
}

// ChangeType returns INSERT, UPDATE or DELETE for postgres change events.
func (e *RealtimeEvent) ChangeType() string {
	if t, ok := e.Payload["type"].(string); ok {
		return t
	}
	return e.Event
}

// Realtime returns a realtime client for the project.
func (c *Client) Realtime() *RealtimeClient {
	return NewRealtimeClient(c.baseURL, c.apiKey)
}

// NewRealtimeClient creates a new realtime client.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := supabaseURL
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + strings.TrimPrefix(wsURL, "https")
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	wsURL = strings.TrimSuffix(wsURL, "/") + "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		handlers: make(map[string][]EventHandler),
		joined:   make(map[string]string),
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	go r.readLoop(conn, r.done)
	go r.heartbeat(r.done)
	return nil
}

// Disconnect closes the WebSocket connection.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	close(r.done)
	_ = r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := r.conn.Close()
	r.conn = nil
	r.joined = make(map[string]string)
	return err
}

// TableChanges configures a postgres changes subscription.
type TableChanges struct {
	Event  string // INSERT, UPDATE, DELETE or * (default)
	Schema string // default public
	Table  string
}

func (tc TableChanges) topic() string {
	schema := tc.Schema
	if schema == "" {
		schema = "public"
	}
	return "realtime:" + schema + ":" + tc.Table
}

// Subscribe joins the table's channel and registers handler.
func (r *RealtimeClient) Subscribe(tc TableChanges, handler EventHandler) (string, error) {
	if tc.Table == "" {
		return "", fmt.Errorf("table is required")
	}
	event := strings.ToUpper(tc.Event)
	if event == "" {
		event = "*"
	}
	topic := tc.topic()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return "", fmt.Errorf("realtime not connected")
	}

	events := []string{event}
	if event == "*" {
		events = []string{"INSERT", "UPDATE", "DELETE"}
	}
	for _, e := range events {
		key := topic + ":" + e
		r.handlers[key] = append(r.handlers[key], handler)
	}

	if _, ok := r.joined[topic]; ok {
		return topic, nil
	}
	ref := r.nextRefLocked()
	if err := r.conn.WriteJSON(map[string]any{
		"topic":    topic,
		"event":    "phx_join",
		"payload":  map[string]any{},
		"ref":      ref,
		"join_ref": ref,
	}); err != nil {
		return "", fmt.Errorf("send join: %w", err)
	}
	r.joined[topic] = ref
	return topic, nil
}

// Unsubscribe leaves topic and drops its handlers.
func (r *RealtimeClient) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	joinRef, ok := r.joined[topic]
	if !ok || r.conn == nil {
		return nil
	}
	if err := r.conn.WriteJSON(map[string]any{
		"topic":    topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      r.nextRefLocked(),
		"join_ref": joinRef,
	}); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	delete(r.joined, topic)
	for key := range r.handlers {
		if strings.HasPrefix(key, topic+":") {
			delete(r.handlers, key)
		}
	}
	return nil
}

func (r *RealtimeClient) nextRefLocked() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}

		var event RealtimeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		r.dispatch(&event)
	}
}

func (r *RealtimeClient) dispatch(event *RealtimeEvent) {
	r.mu.Lock()
	handlers := append([]EventHandler(nil), r.handlers[event.Topic+":"+event.ChangeType()]...)
	r.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				_ = r.conn.WriteJSON(map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     r.nextRefLocked(),
				})
			}
			r.mu.Unlock()
		}
	}
}
