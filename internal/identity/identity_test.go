package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestPeerIDReusesValidCookie(t *testing.T) {
	r := NewResolver("peerid", "")
	want := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: "peerid", Value: want})

	got, minted := r.PeerID(req)
	if minted {
		t.Fatalf("expected reuse, got minted=true")
	}
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPeerIDMintsWhenCookieMissingOrMalformed(t *testing.T) {
	r := NewResolver("peerid", "")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	id, minted := r.PeerID(req)
	if !minted || id == "" {
		t.Fatalf("expected a fresh minted id, got %q minted=%v", id, minted)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req2.AddCookie(&http.Cookie{Name: "peerid", Value: "not-a-uuid"})
	id2, minted2 := r.PeerID(req2)
	if !minted2 {
		t.Fatalf("expected malformed cookie to be rejected and re-minted")
	}
	if _, err := uuid.Parse(id2); err != nil {
		t.Fatalf("minted id not a uuid: %v", err)
	}
}

func TestNameIsStablePerPeerID(t *testing.T) {
	r := NewResolver("peerid", "")
	id := uuid.NewString()
	n1 := r.Name(id)
	n2 := r.Name(id)
	if n1 != n2 {
		t.Fatalf("expected deterministic name for same peerId, got %v vs %v", n1, n2)
	}
}

func TestHashPeerIDIsSaltedAndStable(t *testing.T) {
	r := NewResolver("peerid", "")
	id := uuid.NewString()
	h1 := r.HashPeerID(id)
	h2 := r.HashPeerID(id)
	if h1 != h2 {
		t.Fatalf("hash should be stable within a resolver lifetime")
	}

	other := NewResolver("peerid", "")
	if other.HashPeerID(id) == h1 {
		t.Fatalf("different resolver instances should use different salts")
	}
}

func TestIPCanonicalizesLoopbackAndIPv4MappedV6(t *testing.T) {
	r := NewResolver("peerid", "")

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "[::1]:54321"
	if got := r.IP(req); got != "127.0.0.1" {
		t.Fatalf("expected ::1 to canonicalize to 127.0.0.1, got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req2.RemoteAddr = "[::ffff:192.0.2.10]:1234"
	if got := r.IP(req2); got != "192.0.2.10" {
		t.Fatalf("expected IPv4-mapped address to canonicalize, got %q", got)
	}
}

func TestIPHonorsTrustedProxyHeader(t *testing.T) {
	r := NewResolver("peerid", "X-Forwarded-For")
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := r.IP(req); got != "203.0.113.5" {
		t.Fatalf("expected first hop from X-Forwarded-For, got %q", got)
	}
}
