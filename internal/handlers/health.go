package handlers

import (
	"net/http"
	"strconv"

	"github.com/webterm-io/engine/internal/logging"
)

// Health reports daemon liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Logs returns the tail of the daemon log file.
func Logs(w http.ResponseWriter, r *http.Request) {
	n := 200
	if q := r.URL.Query().Get("lines"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid lines value")
			return
		}
		n = v
	}
	tail, err := logging.ReadTail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"log": tail})
}
