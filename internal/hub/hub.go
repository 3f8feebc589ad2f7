// Package hub implements the signaling/relay core: the three-namespace
// Room Registry (§4.4), the Pair-Key Directory (§4.5), and the message
// relay primitives the dispatcher in internal/ws drives. Every room and
// directory mutation happens under Hub.mu, matching the single
// serialization domain the concurrency model (§5) calls for.
package hub

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/dropmesh/relay-hub/internal/config"
	"github.com/dropmesh/relay-hub/internal/keepalive"
	"github.com/dropmesh/relay-hub/internal/logs"
	"github.com/dropmesh/relay-hub/internal/metrics"
	"github.com/dropmesh/relay-hub/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	KindIP     = "ip"
	KindSecret = "secret"
	KindPublic = "public-id"
)

type pairEntry struct {
	roomSecret string
	creator    *Peer
}

// Hub owns every piece of process-wide mutable state: the three room
// namespaces, the pair-key directory, the set of connected peers, the
// keep-alive supervisor and the shared rate limiter.
type Hub struct {
	mu  sync.Mutex
	log logs.Logger
	cfg config.Config

	rl *ratelimit.Limiter
	ka *keepalive.Supervisor

	ipRooms     map[string]map[string]*Peer
	secretRooms map[string]map[string]*Peer
	publicRooms map[string]map[string]*Peer
	pairKeys    map[string]pairEntry
	peers       map[string]*Peer

	secretRe *regexp.Regexp
}

func New(cfg config.Config, log logs.Logger) *Hub {
	return &Hub{
		log: log,
		cfg: cfg,
		rl:  ratelimit.New(cfg.RateLimitAttempts, cfg.RateLimitWindow),
		ka:  keepalive.New(cfg.KeepAlivePeriod, cfg.KeepAliveTimeout),

		ipRooms:     make(map[string]map[string]*Peer),
		secretRooms: make(map[string]map[string]*Peer),
		publicRooms: make(map[string]map[string]*Peer),
		pairKeys:    make(map[string]pairEntry),
		peers:       make(map[string]*Peer),

		secretRe: regexp.MustCompile(fmt.Sprintf(`^[\x00-\x7F]{%d,%d}$`, cfg.RoomSecretMinLen, cfg.RoomSecretMaxLen)),
	}
}

func (h *Hub) roomsFor(kind string) map[string]map[string]*Peer {
	switch kind {
	case KindIP:
		return h.ipRooms
	case KindSecret:
		return h.secretRooms
	case KindPublic:
		return h.publicRooms
	default:
		return nil
	}
}

// --- connection lifecycle (§4.1) ---------------------------------------

// Connect registers a newly-upgraded peer and starts its keep-alive loop.
func (h *Hub) Connect(p *Peer) {
	h.mu.Lock()
	h.peers[p.ID] = p
	h.mu.Unlock()

	metrics.Connections.Inc()
	metrics.PeersActive.Set(float64(h.peerCount()))

	h.ka.Start(p.ID,
		func() { p.send(map[string]any{"type": "ping"}) },
		func() {
			metrics.Disconnects.WithLabelValues("heartbeat-timeout").Inc()
			h.Disconnect(p)
		},
	)
}

func (h *Hub) peerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Pong records a received {"type":"pong"} frame.
func (h *Hub) Pong(p *Peer) { h.ka.Pong(p.ID) }

// Disconnect runs the cascading cleanup of §4.1, exactly once per peer: it
// revokes the peer's pair key, stops its keep-alive record, leaves every
// room it occupies (emitting peer-left to the remainder), and finally
// closes the socket — in that order, so every peer-left is observed before
// the transport goes away.
func (h *Hub) Disconnect(p *Peer) {
	p.disconnectOnce.Do(func() {
		h.mu.Lock()
		h.cancelPairKeyLocked(p)
		h.mu.Unlock()

		h.ka.Stop(p.ID)
		h.rl.Forget(p.ID)

		h.mu.Lock()
		if p.IP != "" {
			h.leaveLocked(KindIP, p.IP, p, true)
		}
		for _, s := range append([]string(nil), p.RoomSecrets...) {
			h.leaveLocked(KindSecret, s, p, true)
		}
		if p.PublicRoomID != "" {
			h.leaveLocked(KindPublic, p.PublicRoomID, p, true)
		}
		delete(h.peers, p.ID)
		h.mu.Unlock()

		_ = p.socket.Close()
		metrics.PeersActive.Set(float64(h.peerCount()))
	})
}

// Shutdown cascades a disconnect through every connected peer, used by the
// server's graceful-shutdown path.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	all := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		all = append(all, p)
	}
	h.mu.Unlock()

	for _, p := range all {
		h.Disconnect(p)
	}
}

// --- room registry primitives (§4.4) ------------------------------------

// joinLocked implements §4.4's join(): leave-before-rejoin, then notify
// existing occupants, snapshot to the joiner, then insert. Caller holds
// h.mu.
func (h *Hub) joinLocked(kind, roomID string, p *Peer) {
	rooms := h.roomsFor(kind)
	if existing := rooms[roomID]; existing != nil && existing[p.ID] != nil {
		h.leaveLocked(kind, roomID, p, false)
	}

	room := rooms[roomID]
	if room == nil {
		room = make(map[string]*Peer)
		rooms[roomID] = room
	}

	others := make([]PeerInfo, 0, len(room))
	for _, occ := range room {
		occ.send(map[string]any{"type": "peer-joined", "peer": p.Info(), "roomType": kind, "roomId": roomID})
		others = append(others, occ.Info())
	}
	p.send(map[string]any{"type": "peers", "peers": others, "roomType": kind, "roomId": roomID})

	room[p.ID] = p
	switch kind {
	case KindSecret:
		p.addSecret(roomID)
	case KindPublic:
		p.PublicRoomID = roomID
	}
	metrics.RoomsActive.WithLabelValues(kind).Set(float64(len(rooms)))
}

// leaveLocked implements §4.4's leave(). Caller holds h.mu.
func (h *Hub) leaveLocked(kind, roomID string, p *Peer, disconnect bool) {
	rooms := h.roomsFor(kind)
	room := rooms[roomID]
	if room == nil || room[p.ID] == nil {
		return
	}
	delete(room, p.ID)

	switch kind {
	case KindSecret:
		p.removeSecret(roomID)
	case KindPublic:
		if p.PublicRoomID == roomID {
			p.PublicRoomID = ""
		}
	}

	if len(room) == 0 {
		delete(rooms, roomID)
		metrics.RoomsActive.WithLabelValues(kind).Set(float64(len(rooms)))
		return
	}
	for _, occ := range room {
		occ.send(map[string]any{"type": "peer-left", "peerId": p.ID, "roomType": kind, "roomId": roomID, "disconnect": disconnect})
	}
}

// --- IP rooms ------------------------------------------------------------

func (h *Hub) JoinIPRoom(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(KindIP, p.IP, p)
}

// --- secret rooms ---------------------------------------------------------

func (h *Hub) JoinSecretRooms(p *Peer, secrets []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range secrets {
		if !h.secretRe.MatchString(s) {
			continue
		}
		h.joinLocked(KindSecret, s, p)
	}
}

func (h *Hub) DeleteSecretRooms(p *Peer, secrets []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range secrets {
		room := h.secretRooms[s]
		if room == nil {
			continue
		}
		for _, occ := range room {
			occ.removeSecret(s)
			occ.send(map[string]any{"type": "secret-room-deleted", "roomSecret": s})
		}
		delete(h.secretRooms, s)
		metrics.RoomsActive.WithLabelValues(KindSecret).Set(float64(len(h.secretRooms)))
	}
}

// RegenerateRoomSecret mints a replacement secret and tears down the old
// room without creating a new one (§4.2, §9: the asymmetry is intentional —
// occupants rejoin via a subsequent room-secrets round-trip).
func (h *Hub) RegenerateRoomSecret(p *Peer, oldSecret string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.secretRooms[oldSecret]
	if room == nil {
		return
	}
	newSecret := generateRoomSecret()
	for _, occ := range room {
		occ.removeSecret(oldSecret)
		occ.send(map[string]any{"type": "room-secret-regenerated", "oldRoomSecret": oldSecret, "newRoomSecret": newSecret})
	}
	delete(h.secretRooms, oldSecret)
	metrics.RoomsActive.WithLabelValues(KindSecret).Set(float64(len(h.secretRooms)))
}

// --- public rooms -----------------------------------------------------

func (h *Hub) CreatePublicRoom(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := generatePublicRoomID()
	for h.publicRooms[id] != nil {
		id = generatePublicRoomID()
	}
	p.send(map[string]any{"type": "public-room-created", "roomId": id})
	h.joinLocked(KindPublic, id, p)
}

func (h *Hub) JoinPublicRoom(p *Peer, roomID string, createIfInvalid bool) {
	if !h.rl.Allow(p.ID) {
		metrics.RateLimited.WithLabelValues("join-public-room").Inc()
		p.send(map[string]any{"type": "join-key-rate-limit"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.publicRooms[roomID]; !exists && !createIfInvalid {
		p.send(map[string]any{"type": "public-room-id-invalid", "publicRoomId": roomID})
		return
	}
	if p.PublicRoomID != "" {
		h.leaveLocked(KindPublic, p.PublicRoomID, p, false)
	}
	h.joinLocked(KindPublic, roomID, p)
}

func (h *Hub) LeavePublicRoom(p *Peer) {
	h.mu.Lock()
	if p.PublicRoomID != "" {
		h.leaveLocked(KindPublic, p.PublicRoomID, p, false)
	}
	h.mu.Unlock()
	p.send(map[string]any{"type": "public-room-left"})
}

// --- pair-key directory (§4.5) -----------------------------------------

func (h *Hub) cancelPairKeyLocked(p *Peer) {
	if p.PairKey == "" {
		return
	}
	delete(h.pairKeys, p.PairKey)
	p.PairKey = ""
	metrics.PairKeysActive.Set(float64(len(h.pairKeys)))
}

func (h *Hub) allocatePairKeyLocked(secret string, creator *Peer) (string, error) {
	for i := 0; i < 32; i++ {
		cand, err := generatePairKeyCandidate()
		if err != nil {
			return "", err
		}
		if _, exists := h.pairKeys[cand]; exists {
			continue
		}
		h.pairKeys[cand] = pairEntry{roomSecret: secret, creator: creator}
		metrics.PairKeysIssued.Inc()
		metrics.PairKeysActive.Set(float64(len(h.pairKeys)))
		return cand, nil
	}
	return "", errors.New("hub: pair key space exhausted")
}

// PairKeyActive reports whether key is still outstanding, for the read-only
// HTTP convenience surface (a peer still redeems it over the websocket; this
// only answers "is it worth trying").
func (h *Hub) PairKeyActive(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pairKeys[key]
	return ok
}

func (h *Hub) PairInitiate(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancelPairKeyLocked(p)
	secret := generateRoomSecret()
	key, err := h.allocatePairKeyLocked(secret, p)
	if err != nil {
		h.log.Warn("pair key allocation failed", logs.F("err", err))
		return
	}
	p.PairKey = key
	p.send(map[string]any{"type": "pair-device-initiated", "roomSecret": secret, "pairKey": key})
	h.joinLocked(KindSecret, secret, p)
}

func (h *Hub) PairJoin(p *Peer, key string) {
	if !h.rl.Allow(p.ID) {
		metrics.RateLimited.WithLabelValues("pair-device-join").Inc()
		p.send(map[string]any{"type": "join-key-rate-limit"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.pairKeys[key]
	if !ok || entry.creator == p {
		reason := "invalid-key"
		if ok {
			reason = "self-join"
		}
		metrics.PairJoinRejected.WithLabelValues(reason).Inc()
		p.send(map[string]any{"type": "pair-device-join-key-invalid"})
		return
	}

	delete(h.pairKeys, key)
	metrics.PairKeysActive.Set(float64(len(h.pairKeys)))
	creator := entry.creator
	if creator.PairKey == key {
		creator.PairKey = ""
	}

	p.send(map[string]any{"type": "pair-device-joined", "roomSecret": entry.roomSecret, "peerId": creator.ID})
	creator.send(map[string]any{"type": "pair-device-joined", "roomSecret": entry.roomSecret, "peerId": p.ID})
	h.joinLocked(KindSecret, entry.roomSecret, p)
}

func (h *Hub) PairCancel(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.PairKey == "" {
		return
	}
	key := p.PairKey
	h.cancelPairKeyLocked(p)
	p.send(map[string]any{"type": "pair-device-canceled", "pairKey": key})
}

// --- relay (§4.2) --------------------------------------------------------

// Relay implements the signal/relay routing rule common to `signal` and the
// wsFallback-gated payload types: resolve the room from roomType (sender's
// IP for "ip", otherwise msg["roomId"]), look up msg["to"] in it, strip
// "to", attach "sender", forward verbatim.
func (h *Hub) Relay(p *Peer, msg map[string]any) {
	kind, _ := msg["roomType"].(string)
	var roomID string
	if kind == KindIP {
		roomID = p.IP
	} else {
		rid, ok := msg["roomId"].(string)
		if !ok {
			return
		}
		roomID = rid
	}

	to, ok := msg["to"].(string)
	if !ok {
		return
	}
	if _, err := uuid.Parse(to); err != nil {
		return
	}

	h.mu.Lock()
	var recipient *Peer
	if rooms := h.roomsFor(kind); rooms != nil {
		if room := rooms[roomID]; room != nil {
			recipient = room[to]
		}
	}
	h.mu.Unlock()

	if recipient == nil {
		metrics.MessagesDropped.WithLabelValues("no-recipient").Inc()
		return
	}

	delete(msg, "to")
	msg["sender"] = map[string]any{"id": p.ID, "rtcSupported": p.RTCSupported}
	recipient.send(msg)
}

// --- binary relay (§4.3) -------------------------------------------------

const (
	binHeaderRecipientLen = 36
	binHeaderMarkerOffset = 36
	binHeaderSecretOffset = 37
	binHeaderSecretEnd    = 101
)

func (h *Hub) BinaryRelay(p *Peer, frame []byte) {
	if !h.cfg.WSFallback {
		metrics.MessagesDropped.WithLabelValues("fallback-disabled").Inc()
		return
	}
	if len(frame) < binHeaderSecretEnd {
		metrics.MessagesDropped.WithLabelValues("malformed-binary").Inc()
		return
	}

	recipientID := string(frame[:binHeaderRecipientLen])
	if _, err := uuid.Parse(recipientID); err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed-binary").Inc()
		return
	}

	marker := frame[binHeaderMarkerOffset]
	var kind, roomID string
	switch marker {
	case 'i':
		kind, roomID = KindIP, p.IP
	case 's':
		kind = KindSecret
		raw := frame[binHeaderSecretOffset:binHeaderSecretEnd]
		end := len(raw)
		for end > 0 && (raw[end-1] == 0 || raw[end-1] == ' ') {
			end--
		}
		roomID = string(raw[:end])
	default:
		metrics.MessagesDropped.WithLabelValues("malformed-binary").Inc()
		return
	}

	h.mu.Lock()
	var recipient *Peer
	if rooms := h.roomsFor(kind); rooms != nil {
		if room := rooms[roomID]; room != nil {
			recipient = room[recipientID]
		}
	}
	h.mu.Unlock()

	if recipient == nil {
		metrics.MessagesDropped.WithLabelValues("no-recipient").Inc()
		return
	}

	payload := frame[binHeaderSecretEnd:]
	if err := recipient.socket.WriteMessage(websocket.BinaryMessage, payload); err == nil {
		metrics.BinaryFramesRelayed.Inc()
		metrics.BinaryBytesRelayed.Add(float64(len(payload)))
	}
}
