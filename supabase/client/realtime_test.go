package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewRealtimeClient_URL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://abc.supabase.co", "wss://abc.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0"},
		{"http://localhost:54321/", "ws://localhost:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0"},
	}
	for _, tt := range tests {
		if got := NewRealtimeClient(tt.in, "k").url; got != tt.want {
			t.Errorf("url(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRealtime_SubscribeDispatchesChanges(t *testing.T) {
	joined := make(chan map[string]any, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon-key" {
			t.Errorf("unexpected upgrade request %s", r.URL)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var join map[string]any
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joined <- join

		_ = conn.WriteJSON(map[string]any{
			"topic": "realtime:public:divers", "event": "postgres_changes",
			"payload": map[string]any{"type": "UPDATE", "record": map[string]any{"id": "d1"}}, "ref": "",
		})
		_ = conn.WriteJSON(map[string]any{
			"topic": "realtime:public:divers", "event": "postgres_changes",
			"payload": map[string]any{"type": "INSERT", "record": map[string]any{"id": "d2"}}, "ref": "",
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rt := NewRealtimeClient(srv.URL, "anon-key")
	if err := rt.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer rt.Disconnect()

	events := make(chan *RealtimeEvent, 4)
	topic, err := rt.Subscribe(TableChanges{Event: "insert", Table: "divers"}, func(e *RealtimeEvent) {
		events <- e
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if topic != "realtime:public:divers" {
		t.Errorf("topic = %q", topic)
	}

	select {
	case join := <-joined:
		if join["event"] != "phx_join" || join["topic"] != topic {
			t.Errorf("join = %v", join)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no join received")
	}

	select {
	case e := <-events:
		if e.ChangeType() != "INSERT" {
			t.Errorf("ChangeType() = %q, want INSERT only", e.ChangeType())
		}
		record, _ := e.Payload["record"].(map[string]any)
		if record["id"] != "d2" {
			t.Errorf("record = %v", record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event dispatched")
	}

	if err := rt.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestRealtime_SubscribeRequiresConnection(t *testing.T) {
	rt := NewRealtimeClient("http://localhost", "k")
	if _, err := rt.Subscribe(TableChanges{Table: "divers"}, func(*RealtimeEvent) {}); err == nil {
		t.Error("Subscribe() before Connect should fail")
	}
	if _, err := rt.Subscribe(TableChanges{}, func(*RealtimeEvent) {}); err == nil {
		t.Error("Subscribe() without table should fail")
	}
	if err := rt.Disconnect(); err != nil {
		t.Errorf("Disconnect() when idle = %v", err)
	}
}
