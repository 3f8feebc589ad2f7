// Package ws holds the upgrade handler and message dispatcher: the
// connection lifecycle of spec §4.1 and the dispatch table of §4.2/§4.3.
package ws

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/dropmesh/relay-hub/internal/config"
	"github.com/dropmesh/relay-hub/internal/hub"
	"github.com/dropmesh/relay-hub/internal/identity"
	"github.com/dropmesh/relay-hub/internal/logs"
	"github.com/gorilla/websocket"
)

// rawJSON embeds a pre-serialized JSON blob (the passthrough rtcConfig) into
// an outer map without re-escaping it as a string.
func rawJSON(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

// NewHandler builds the /ws upgrade handler. idr derives peer identity from
// the request; h is the shared signaling/relay core.
func NewHandler(cfg config.Config, log logs.Logger, h *hub.Hub, idr *identity.Resolver) http.Handler {
	l := log.Named("ws")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.WSReadBuf,
		WriteBufferSize: cfg.WSWriteBuf,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.DevMode || len(cfg.CORSOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range cfg.CORSOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			w.Header().Set("Connection", "Upgrade")
			w.Header().Set("Upgrade", "websocket")
			http.Error(w, "upgrade required", http.StatusUpgradeRequired)
			return
		}

		peerID, minted := idr.PeerID(r)
		if minted {
			http.SetCookie(w, &http.Cookie{
				Name:     cfg.PeerIDCookieName,
				Value:    peerID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ip := idr.IP(r)
		name := idr.Name(peerID)
		hash := idr.HashPeerID(peerID)
		rtcSupported := r.URL.Query().Get("rtcSupported") != "false"

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.Warn("upgrade failed", logs.F("err", err))
			return
		}

		c.SetReadLimit(cfg.WSMaxMsg)
		c.EnableWriteCompression(false)
		if tcp, ok := c.UnderlyingConn().(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
		}

		p := hub.NewPeer(peerID, ip, name, hash, rtcSupported, c)
		h.Connect(p)
		l.Info("peer-connected", logs.F("peer", peerID), logs.F("ip", ip))

		p.Send(map[string]any{
			"type": "ws-config",
			"wsConfig": map[string]any{
				"rtcConfig":            rawJSON(cfg.RTCConfigJSON),
				"wsFallback":           cfg.WSFallback,
				"chunkSize":            cfg.ChunkSize,
				"maxParallelTransfers": cfg.MaxParallelTransfers,
				"disableThrottling":    true,
			},
		})
		p.Send(map[string]any{
			"type":        "display-name",
			"displayName": name.DisplayName,
			"deviceName":  name.DeviceName,
			"peerId":      peerID,
			"peerIdHash":  hash,
		})

		defer func() {
			h.Disconnect(p)
			l.Info("peer-disconnected", logs.F("peer", peerID))
		}()

		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				l.Debug("ws read closed", logs.F("peer", peerID), logs.F("err", err))
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				h.BinaryRelay(p, data)
			case websocket.TextMessage:
				if dispatchText(h, p, cfg, l, data) {
					return
				}
			}
		}
	})
}
