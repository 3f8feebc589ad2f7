package hub

import (
	"sync"
	"time"

	"github.com/dropmesh/relay-hub/internal/identity"
	"github.com/gorilla/websocket"
)

// connWrap serializes all writes to one socket behind a single mutex, so
// concurrent senders (the dispatcher goroutine and the keep-alive
// supervisor's ping) never interleave frames on the wire.
type connWrap struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *connWrap) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteJSON(v)
}

func (w *connWrap) WriteMessage(mt int, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteMessage(mt, p)
}

func (w *connWrap) WriteControl(mt int, data []byte, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(mt, data, deadline)
}

func (w *connWrap) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.Close()
}

// NameInfo is the wire shape of a peer's display/device name.
type NameInfo struct {
	DisplayName string `json:"displayName"`
	DeviceName  string `json:"deviceName"`
}

// PeerInfo is the wire shape sent to observers in `peers`/`peer-joined`.
type PeerInfo struct {
	ID           string   `json:"id"`
	Name         NameInfo `json:"name"`
	RTCSupported bool     `json:"rtcSupported"`
}

// Peer is the per-connection state described in spec §3. Every mutation of
// RoomSecrets/PublicRoomID/PairKey happens under the owning Hub's mutex, so
// no separate lock guards them here.
type Peer struct {
	ID           string
	IP           string
	Name         identity.Name
	PeerIDHash   string
	RTCSupported bool

	socket *connWrap

	RoomSecrets  []string
	PublicRoomID string // "" means none
	PairKey      string // "" means none

	disconnectOnce sync.Once
}

// NewPeer constructs a Peer wrapping an upgraded socket. Callers pass it to
// Hub.Connect to register it and start its keep-alive loop.
func NewPeer(id, ip string, name identity.Name, hash string, rtc bool, c *websocket.Conn) *Peer {
	return &Peer{
		ID:           id,
		IP:           ip,
		Name:         name,
		PeerIDHash:   hash,
		RTCSupported: rtc,
		socket:       &connWrap{c: c},
	}
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{
		ID:           p.ID,
		Name:         NameInfo{DisplayName: p.Name.DisplayName, DeviceName: p.Name.DeviceName},
		RTCSupported: p.RTCSupported,
	}
}

// send delivers v to this peer's socket, best-effort. A write error means
// the socket is going or gone; the caller never needs to react (§7:
// send-to-closed-socket is a silent drop).
func (p *Peer) send(v any) {
	if p == nil || p.socket == nil {
		return
	}
	_ = p.socket.WriteJSON(v)
}

// Send delivers an arbitrary JSON payload to the peer, best-effort. Used by
// the connection lifecycle for the initial ws-config/display-name push.
func (p *Peer) Send(v any) { p.send(v) }

func (p *Peer) hasSecret(s string) bool {
	for _, x := range p.RoomSecrets {
		if x == s {
			return true
		}
	}
	return false
}

func (p *Peer) addSecret(s string) {
	if !p.hasSecret(s) {
		p.RoomSecrets = append(p.RoomSecrets, s)
	}
}

func (p *Peer) removeSecret(s string) {
	for i, x := range p.RoomSecrets {
		if x == s {
			p.RoomSecrets = append(p.RoomSecrets[:i], p.RoomSecrets[i+1:]...)
			return
		}
	}
}
