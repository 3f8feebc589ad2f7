// Package identity derives the stable peerId/deviceName/displayName/ip
// quadruple for a connecting peer (spec §3, §4.1) and the salted peerId
// hash sent alongside it. Display-name/avatar generation is treated by the
// wider spec as an opaque collaborator; this package is that collaborator's
// concrete (word-list based) implementation, grounded on the word-list
// room-name generator other signaling hubs in this corpus use.
package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type Name struct {
	DeviceName  string
	DisplayName string
}

var adjectives = []string{
	"Quiet", "Brisk", "Amber", "Violet", "Coral", "Dusty", "Sharp", "Mellow",
	"Bold", "Calm", "Eager", "Fleet", "Gentle", "Hollow", "Ivory", "Jolly",
}

var animals = []string{
	"Heron", "Otter", "Falcon", "Lynx", "Badger", "Marten", "Swift", "Gecko",
	"Mantis", "Osprey", "Vole", "Wren", "Civet", "Hare", "Newt", "Tapir",
}

// Resolver carries the process-lifetime salt (§9: stability across restarts
// is not required) and the configured cookie/proxy-header names.
type Resolver struct {
	cookieName string
	proxyHdr   string
	salt       [32]byte
}

func NewResolver(cookieName, trustedProxyHeader string) *Resolver {
	r := &Resolver{cookieName: cookieName, proxyHdr: trustedProxyHeader}
	_, _ = rand.Read(r.salt[:])
	return r
}

// PeerID returns the peer's id, reusing the cookie if present and
// UUID-shaped, minting a fresh one otherwise. minted reports whether a new
// id was generated, so the caller knows to set the cookie on the response.
func (r *Resolver) PeerID(req *http.Request) (id string, minted bool) {
	if c, err := req.Cookie(r.cookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value, false
		}
	}
	return uuid.NewString(), true
}

// Name deterministically derives a device/display name from the peerId so
// that reconnects of the same peer see a stable name without persisting
// anything.
func (r *Resolver) Name(peerID string) Name {
	sum := sha256.Sum256([]byte(peerID))
	a := adjectives[int(sum[0])%len(adjectives)]
	b := animals[int(sum[1])%len(animals)]
	device := a + " " + b
	c := adjectives[int(sum[2])%len(adjectives)]
	d := animals[int(sum[3])%len(animals)]
	display := c + " " + d
	return Name{DeviceName: device, DisplayName: display}
}

// HashPeerID returns a salted, hex-encoded HMAC-SHA256 of the peerId, stable
// for this process's lifetime only.
func (r *Resolver) HashPeerID(peerID string) string {
	mac := hmac.New(sha256.New, r.salt[:])
	mac.Write([]byte(peerID))
	return hex.EncodeToString(mac.Sum(nil))
}

// IP resolves the observed peer address, honoring the configured trusted
// reverse-proxy header, and canonicalizes IPv6-mapped loopback/IPv4
// addresses down to plain IPv4 so that two peers on the same physical LAN
// land in the same ip-room regardless of dual-stack quirks.
func (r *Resolver) IP(req *http.Request) string {
	raw := ""
	if r.proxyHdr != "" {
		if v := req.Header.Get(r.proxyHdr); v != "" {
			if i := strings.IndexByte(v, ','); i >= 0 {
				raw = strings.TrimSpace(v[:i])
			} else {
				raw = strings.TrimSpace(v)
			}
		}
	}
	if raw == "" {
		host, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			raw = req.RemoteAddr
		} else {
			raw = host
		}
	}
	return canonicalize(raw)
}

func canonicalize(addr string) string {
	if addr == "::1" {
		return "127.0.0.1"
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
