package proxy

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStatus(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/admin/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial status feed: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected handshake status: %d", resp.StatusCode)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatusMessage(t *testing.T, conn *websocket.Conn, wantType string) statusMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg statusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read %s message: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestStatusFeedSendsSnapshotOnConnect(t *testing.T) {
	env := newTestEnv(t, "K", &fakeKagi{})
	conn := dialStatus(t, env)

	msg := readStatusMessage(t, conn, "status")
	if msg.Status == nil || !msg.Status.SessionConfigured {
		t.Fatalf("unexpected status: %+v", msg.Status)
	}
	if msg.Status.DefaultModel != "openai/gpt-5-mini" || msg.Status.Models != 0 {
		t.Fatalf("unexpected catalog fields: %+v", msg.Status)
	}
	if msg.Status.SessionUpdatedAt == nil {
		t.Fatalf("session timestamp missing")
	}
}

func TestStatusFeedRefreshModels(t *testing.T) {
	env := newTestEnv(t, "K", &fakeKagi{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := dialStatus(t, env)
	readStatusMessage(t, conn, "status")

	if err := conn.WriteJSON(map[string]string{"type": "refresh_models"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	go env.catalog.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for env.catalog.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.catalog.Len() != 2 {
		t.Fatalf("refresh did not populate the catalog")
	}
	if err := conn.WriteJSON(map[string]string{"type": "status"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		msg := readStatusMessage(t, conn, "status")
		if msg.Status.Models == 2 {
			return
		}
	}
}

func TestStatusFeedForwardsLogLines(t *testing.T) {
	env := newTestEnv(t, "K", &fakeKagi{})
	conn := dialStatus(t, env)
	readStatusMessage(t, conn, "status")

	_, _ = env.srv.Status().Write([]byte("INFO first line\nINFO sec"))
	_, _ = env.srv.Status().Write([]byte("ond line\n"))

	if msg := readStatusMessage(t, conn, "log"); msg.Line != "INFO first line" {
		t.Fatalf("unexpected first line: %q", msg.Line)
	}
	if msg := readStatusMessage(t, conn, "log"); msg.Line != "INFO second line" {
		t.Fatalf("unexpected second line: %q", msg.Line)
	}
}

func TestStatusFeedRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, "K", &fakeKagi{})
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/admin/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatalf("foreign origin must be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestStatusFeedReplaysRecentLogs(t *testing.T) {
	env := newTestEnv(t, "K", &fakeKagi{})
	_, _ = env.srv.Status().Write([]byte("INFO before connect\n"))

	conn := dialStatus(t, env)
	if msg := readStatusMessage(t, conn, "log"); msg.Line != "INFO before connect" {
		t.Fatalf("unexpected replayed line: %q", msg.Line)
	}
}

func TestStatusHubBacklogIsBounded(t *testing.T) {
	h := NewStatusHub(nil, nil)
	for i := 0; i < statusLogBacklog+50; i++ {
		n, err := h.Write([]byte("line\n"))
		if err != nil || n != len("line\n") {
			t.Fatalf("Write = %d, %v", n, err)
		}
	}
	if len(h.recent) != statusLogBacklog {
		t.Fatalf("backlog not bounded: %d", len(h.recent))
	}
}
