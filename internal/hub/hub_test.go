package hub_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dropmesh/relay-hub/internal/config"
	"github.com/dropmesh/relay-hub/internal/hub"
	"github.com/dropmesh/relay-hub/internal/identity"
	"github.com/dropmesh/relay-hub/internal/logs"
	"github.com/dropmesh/relay-hub/internal/ws"
	"github.com/gorilla/websocket"
)

// These exercise the room-registry and pairing invariants of the hub
// package through real websocket connections, the same way the hub is
// actually driven in production, rather than poking at unexported state.

func newTestHub(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	cfg := config.FromEnv()
	cfg.KeepAlivePeriod = time.Hour
	cfg.KeepAliveTimeout = 2 * time.Hour
	cfg.DevMode = true
	cfg.RateLimitAttempts = 1000
	cfg.RateLimitWindow = time.Minute

	log := logs.New("error")
	h := hub.New(cfg, log)
	idr := identity.NewResolver(cfg.PeerIDCookieName, cfg.TrustProxyHeader)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(cfg, log, h, idr))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return h, ts
}

func dialPeer(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))

	var peerID string
	for i := 0; i < 4; i++ {
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("handshake read: %v", err)
		}
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		if m["type"] == "display-name" {
			peerID, _ = m["peerId"].(string)
			break
		}
	}
	return c, peerID
}

func readType(t *testing.T, c *websocket.Conn, want string, attempts int) map[string]any {
	t.Helper()
	for i := 0; i < attempts; i++ {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m["type"] == want {
			return m
		}
	}
	t.Fatalf("never saw %q", want)
	return nil
}

func TestPublicRoomUniquePerPeer(t *testing.T) {
	_, ts := newTestHub(t)
	a, _ := dialPeer(t, ts)
	defer a.Close()

	if err := a.WriteJSON(map[string]any{"type": "create-public-room"}); err != nil {
		t.Fatal(err)
	}
	created := readType(t, a, "public-room-created", 4)
	id1, _ := created["roomId"].(string)

	if err := a.WriteJSON(map[string]any{"type": "create-public-room"}); err != nil {
		t.Fatal(err)
	}
	created2 := readType(t, a, "public-room-created", 4)
	id2, _ := created2["roomId"].(string)

	if id1 == id2 {
		t.Fatalf("expected distinct room ids, got %q twice", id1)
	}
}

func TestJoinInvalidPublicRoomRejectedWithoutCreate(t *testing.T) {
	_, ts := newTestHub(t)
	a, _ := dialPeer(t, ts)
	defer a.Close()

	if err := a.WriteJSON(map[string]any{"type": "join-public-room", "roomId": "zzzzz", "createIfInvalid": false}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "public-room-id-invalid", 4)
}

func TestJoinPublicRoomCreatesWhenAllowed(t *testing.T) {
	_, ts := newTestHub(t)
	a, _ := dialPeer(t, ts)
	defer a.Close()

	if err := a.WriteJSON(map[string]any{"type": "join-public-room", "roomId": "abcde", "createIfInvalid": true}); err != nil {
		t.Fatal(err)
	}
	peers := readType(t, a, "peers", 4)
	if peers["roomId"] != "abcde" {
		t.Fatalf("expected to land in requested room, got %v", peers)
	}
}

func TestRoomSecretsJoinAndDelete(t *testing.T) {
	_, ts := newTestHub(t)
	a, _ := dialPeer(t, ts)
	defer a.Close()
	b, _ := dialPeer(t, ts)
	defer b.Close()

	secret := make([]byte, 0, 200)
	for len(secret) < 128 {
		secret = append(secret, 'x')
	}
	s := string(secret)

	if err := a.WriteJSON(map[string]any{"type": "room-secrets", "secrets": []string{s}}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "peers", 4)
	if err := b.WriteJSON(map[string]any{"type": "room-secrets", "secrets": []string{s}}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "peer-joined", 4)
	readType(t, b, "peers", 4)

	if err := a.WriteJSON(map[string]any{"type": "room-secrets-deleted", "secrets": []string{s}}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "secret-room-deleted", 4)
	readType(t, b, "secret-room-deleted", 4)
}

func TestLeaveBeforeRejoinNoDuplicatePeersEntry(t *testing.T) {
	_, ts := newTestHub(t)
	a, _ := dialPeer(t, ts)
	defer a.Close()
	b, _ := dialPeer(t, ts)
	defer b.Close()

	if err := a.WriteJSON(map[string]any{"type": "join-ip-room"}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "peers", 4)
	if err := b.WriteJSON(map[string]any{"type": "join-ip-room"}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "peer-joined", 4)
	first := readType(t, b, "peers", 4)
	firstArr, _ := first["peers"].([]any)
	if len(firstArr) != 1 {
		t.Fatalf("expected 1 occupant before rejoin, got %v", first)
	}

	// B rejoins the same ip room; it must not appear twice to a fresh joiner.
	if err := b.WriteJSON(map[string]any{"type": "join-ip-room"}); err != nil {
		t.Fatal(err)
	}
	readType(t, b, "peers", 4)

	c, _ := dialPeer(t, ts)
	defer c.Close()
	if err := c.WriteJSON(map[string]any{"type": "join-ip-room"}); err != nil {
		t.Fatal(err)
	}
	snapshot := readType(t, c, "peers", 4)
	arr, _ := snapshot["peers"].([]any)
	if len(arr) != 2 {
		t.Fatalf("expected exactly 2 occupants (A, B) with no duplicate, got %d: %v", len(arr), arr)
	}
}

func TestPairCancelInvalidatesKey(t *testing.T) {
	_, ts := newTestHub(t)
	a, _ := dialPeer(t, ts)
	defer a.Close()
	b, _ := dialPeer(t, ts)
	defer b.Close()

	if err := a.WriteJSON(map[string]any{"type": "pair-device-initiate"}); err != nil {
		t.Fatal(err)
	}
	init := readType(t, a, "pair-device-initiated", 4)
	key, _ := init["pairKey"].(string)

	if err := a.WriteJSON(map[string]any{"type": "pair-device-cancel"}); err != nil {
		t.Fatal(err)
	}
	readType(t, a, "pair-device-canceled", 4)

	if err := b.WriteJSON(map[string]any{"type": "pair-device-join", "pairKey": key}); err != nil {
		t.Fatal(err)
	}
	readType(t, b, "pair-device-join-key-invalid", 4)
}
