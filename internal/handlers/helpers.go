// Package handlers exposes the engine to the presentation layer as a
// local HTTP/WebSocket API. Collaborators are set from main.go during
// init.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/pending"
	"github.com/webterm-io/engine/internal/serverstore"
	"github.com/webterm-io/engine/internal/transport"
)

// Wired from main.go before the router starts serving.
var (
	Registry   *engine.Registry
	Store      *serverstore.Store
	Correlator *pending.Correlator

	// Dialer opens backend transports; tests swap in a fake.
	Dialer transport.Dialer = transport.Dial
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
