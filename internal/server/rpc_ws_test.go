package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cws "github.com/coder/websocket"

	"github.com/ffupdater/ffupdaterd/internal/notify"
)

func dialWS(t *testing.T, srvURL, token string) (*cws.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := &cws.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return cws.Dial(ctx, "ws"+strings.TrimPrefix(srvURL, "http")+"/jsonrpc/ws", opts)
}

func readMessage(t *testing.T, conn *cws.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestWebSocket_AuthRequired(t *testing.T) {
	rs, _ := newTestRPCServer(t, &fakeStatus{})
	srv := httptest.NewServer(rs.Handler())
	defer srv.Close()

	_, resp, err := dialWS(t, srv.URL, "wrong")
	if err == nil {
		t.Fatal("expected error for wrong token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebSocket_CallAndPush(t *testing.T) {
	rs, _ := newTestRPCServer(t, &fakeStatus{})
	srv := httptest.NewServer(rs.Handler())
	defer srv.Close()

	conn, _, err := dialWS(t, srv.URL, testSecret)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(cws.StatusNormalClosure, "")

	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": MethodGetVersion, "id": 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, cws.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg["result"].(map[string]any)["version"] != "1.2.3" {
		t.Fatalf("unexpected response %v", msg)
	}

	// registration races the first response
	deadline := time.Now().Add(5 * time.Second)
	for rs.Notifier().Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	n := notify.New(notify.UpdateAvailable, "firefox", nil)
	if err := rs.Notifier().Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	msg = readMessage(t, conn)
	if msg["method"] != MethodNotification {
		t.Fatalf("expected push notification, got %v", msg)
	}
	params := msg["params"].(map[string]any)
	if params["app"] != "firefox" || params["kind"] != notify.UpdateAvailable.String() {
		t.Fatalf("unexpected params %v", params)
	}
}
