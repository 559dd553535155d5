package mcpr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conikeec/mcpr/connection"
	"github.com/conikeec/mcpr/internal/jsonrpc"
	"github.com/conikeec/mcpr/router"
	"github.com/conikeec/mcpr/transport"
)

var upgrader = websocket.Upgrader{}

// wsToolServer answers every request with {"result":"sock"} over a
// WebSocket, standing in for a tool backend on its own substrate. The
// returned kill func closes the upgraded connections and the listener
// directly: httptest.Server stops tracking hijacked connections, so
// CloseClientConnections/Close alone never tear down the websocket.
func wsToolServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	var mu sync.Mutex
	var conns []*websocket.Conn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := jsonrpc.Decode(payload)
			if err != nil || msg.Type() != jsonrpc.MessageTypeRequest {
				continue
			}
			resp, err := jsonrpc.NewResultResponse(msg.ID, map[string]string{"result": "sock"})
			if err != nil {
				return
			}
			frame, err := jsonrpc.Encode(jsonrpc.AnyFromResponse(resp))
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
	kill := func() {
		mu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
		srv.CloseClientConnections()
		srv.Close()
	}
	t.Cleanup(srv.Close)
	return srv, kill
}

func TestMixedTransportIsolation(t *testing.T) {
	ctx := context.Background()
	sock, killSock := wsToolServer(t)

	cfg := helperConfig("")
	cfg.Capabilities = map[router.Capability]transport.Kind{
		router.CapabilityTool: transport.KindSocket,
	}
	cfg.Transports.Socket = &transport.SocketConfig{
		URL: "ws" + strings.TrimPrefix(sock.URL, "http"),
	}

	d, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer func() { _ = d.Shutdown(context.Background()) }()

	// Both substrates serve their capabilities.
	raw, err := d.Call(ctx, router.CapabilityTool, "tool_call", map[string]string{"name": "x"}, 5*time.Second)
	if err != nil {
		t.Fatalf("tool call over socket: %v", err)
	}
	if !strings.Contains(string(raw), "sock") {
		t.Errorf("tool result = %s", raw)
	}
	if _, err := d.Call(ctx, router.CapabilityResource, "resources/list", nil, 5*time.Second); err != nil {
		t.Fatalf("resource call over pipe: %v", err)
	}

	// Killing the tool backend must not disturb the pipe-bound capabilities.
	killSock()

	if _, err := d.Call(ctx, router.CapabilityTool, "tool_call", map[string]string{"name": "x"}, 5*time.Second); err == nil {
		t.Fatal("tool call succeeded with its backend gone")
	}
	if _, err := d.Call(ctx, router.CapabilityResource, "resources/list", nil, 5*time.Second); err != nil {
		t.Fatalf("resource call after tool backend loss: %v", err)
	}
	if got := d.State(router.CapabilityResource); got != connection.StateActive {
		t.Errorf("pipe connection state = %s, want active", got)
	}
}
