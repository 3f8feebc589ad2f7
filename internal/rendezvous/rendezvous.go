// Package rendezvous exposes a read-only HTTP convenience surface over the
// hub's Pair-Key Directory, mirroring the teacher's Store.Routes() shape.
// Minting and redeeming a pair key both still happen over the websocket
// (pair-device-initiate / pair-device-join); this package only answers
// whether a key is still outstanding, for clients polling before they open
// a socket.
package rendezvous

import (
	"encoding/json"
	"net/http"
)

// statusChecker is satisfied by *hub.Hub; declared locally to avoid an
// import cycle back into internal/hub.
type statusChecker interface {
	PairKeyActive(key string) bool
}

// Routes registers the status endpoint on mux. h is typically *hub.Hub.
func Routes(mux *http.ServeMux, h statusChecker) {
	mux.HandleFunc("/rendezvous/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := r.URL.Query().Get("pairKey")
		if key == "" {
			http.Error(w, "missing pairKey", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pairKey": key,
			"active":  h.PairKeyActive(key),
		})
	})
}
