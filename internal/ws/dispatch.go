package ws

import (
	"encoding/json"

	"github.com/dropmesh/relay-hub/internal/config"
	"github.com/dropmesh/relay-hub/internal/hub"
	"github.com/dropmesh/relay-hub/internal/logs"
	"github.com/dropmesh/relay-hub/internal/metrics"
)

// relayTypes are only forwarded when the instance has wsFallback enabled
// (spec §4.2's relay-type table); "signal" is handled separately and always
// routes regardless of wsFallback.
var relayTypes = map[string]bool{
	"request":                   true,
	"header":                    true,
	"partition":                 true,
	"partition-received":        true,
	"progress":                  true,
	"files-transfer-response":   true,
	"file-transfer-complete":    true,
	"message-transfer-complete": true,
	"text":                      true,
	"display-name-changed":      true,
	"ws-chunk":                  true,
	"ws-chunk-binary":           true,
}

// dispatchText parses one inbound text frame and routes it. It returns
// true when the connection should be torn down (an explicit
// {"type":"disconnect"}).
func dispatchText(h *hub.Hub, p *hub.Peer, cfg config.Config, log logs.Logger, data []byte) (stop bool) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("malformed json frame", logs.F("peer", p.ID), logs.F("err", err))
		metrics.MessagesDropped.WithLabelValues("malformed-json").Inc()
		return false
	}

	typ, _ := msg["type"].(string)
	metrics.MessagesIn.WithLabelValues(typ).Inc()

	switch typ {
	case "disconnect":
		h.Disconnect(p)
		return true

	case "pong":
		h.Pong(p)

	case "join-ip-room":
		h.JoinIPRoom(p)

	case "room-secrets":
		h.JoinSecretRooms(p, stringSlice(msg["secrets"]))

	case "room-secrets-deleted":
		h.DeleteSecretRooms(p, stringSlice(msg["secrets"]))

	case "pair-device-initiate":
		h.PairInitiate(p)

	case "pair-device-join":
		key, _ := msg["pairKey"].(string)
		h.PairJoin(p, key)

	case "pair-device-cancel":
		h.PairCancel(p)

	case "regenerate-room-secret":
		old, _ := msg["roomSecret"].(string)
		h.RegenerateRoomSecret(p, old)

	case "create-public-room":
		h.CreatePublicRoom(p)

	case "join-public-room":
		roomID, _ := msg["roomId"].(string)
		createIfInvalid, _ := msg["createIfInvalid"].(bool)
		h.JoinPublicRoom(p, roomID, createIfInvalid)

	case "leave-public-room":
		h.LeavePublicRoom(p)

	case "signal":
		h.Relay(p, msg)

	default:
		if relayTypes[typ] {
			if !cfg.WSFallback {
				metrics.MessagesDropped.WithLabelValues("fallback-disabled").Inc()
				return false
			}
			h.Relay(p, msg)
			return false
		}
		metrics.MessagesDropped.WithLabelValues("unknown-type").Inc()
	}
	return false
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
