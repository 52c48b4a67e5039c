package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webterm-io/engine/internal/config"
	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/filebrowser"
	"github.com/webterm-io/engine/internal/protocol"
	"github.com/webterm-io/engine/internal/sink"
	"github.com/webterm-io/engine/internal/terminal"
	"github.com/webterm-io/engine/internal/zmodem"
)

type connectRequest struct {
	ServerID uint   `json:"server_id"`
	Kind     string `json:"kind"`

	// Terminal options.
	Term string            `json:"term,omitempty"`
	Cols uint32            `json:"cols,omitempty"`
	Rows uint32            `json:"rows,omitempty"`
	Env  map[string]string `json:"env,omitempty"`

	// Exec mode options.
	Mode        string `json:"mode,omitempty"`
	Command     string `json:"command,omitempty"`
	Workdir     string `json:"workdir,omitempty"`
	Shell       string `json:"shell,omitempty"`
	TimeoutSecs uint64 `json:"timeout_secs,omitempty"`
}

func backendURL(path string) string {
	return strings.TrimRight(config.Cfg.BackendURL, "/") + path
}

func downloadSinks() sink.Provider {
	dir := config.Cfg.DownloadDir
	if dir == "" {
		dir = filepath.Join(config.Cfg.DataPath, "downloads")
	}
	return &sink.DiskProvider{Dir: dir}
}

// Connect creates a session of the requested kind, opens its transport,
// and registers it. Every call yields a fresh session ID.
func Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if _, err := Store.Get(req.ServerID); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	id := engine.NewID()
	var sess engine.Session

	switch req.Kind {
	case "", string(engine.KindTerminal):
		ts := terminal.New(terminal.Config{
			ID:       id,
			ServerID: req.ServerID,
			URL:      backendURL("/ssh"),
			Dial:     Dialer,
			Sinks:    downloadSinks(),
			Params: protocol.ConnectParams{
				ServerID:    req.ServerID,
				Mode:        req.Mode,
				Term:        req.Term,
				Cols:        req.Cols,
				Rows:        req.Rows,
				Env:         req.Env,
				Command:     req.Command,
				Workdir:     req.Workdir,
				Shell:       req.Shell,
				TimeoutSecs: req.TimeoutSecs,
			},
		})
		if err := ts.Connect(r.Context()); err != nil {
			log.Printf("[handlers] terminal connect failed: %v", err)
			writeError(w, http.StatusBadGateway, "Connection failed")
			return
		}
		sess = ts

	case string(engine.KindFileBrowser):
		fs := filebrowser.New(filebrowser.Config{
			ID:             id,
			ServerID:       req.ServerID,
			URL:            backendURL("/sftp"),
			Dial:           Dialer,
			Correlator:     Correlator,
			Sinks:          downloadSinks(),
			RequestTimeout: config.Cfg.PendingTimeout,
			UploadWait:     config.Cfg.UploadWait,
		})
		if err := fs.Connect(r.Context()); err != nil {
			log.Printf("[handlers] filebrowser connect failed: %v", err)
			writeError(w, http.StatusBadGateway, "Connection failed")
			return
		}
		sess = fs

	default:
		writeError(w, http.StatusBadRequest, "Unknown session kind")
		return
	}

	Registry.Register(sess)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   sess.ID(),
		"kind": string(sess.Kind()),
	})
}

// ListSessions snapshots the registry.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": Registry.List()})
}

// Disconnect closes a session. Idempotent; a second call reports the
// same closed-session outcome.
func Disconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := Registry.Disconnect(id); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// Activate marks a session as the UI-focused one.
func Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !Registry.SetActive(id) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// ActiveSession reports the focused session.
func ActiveSession(w http.ResponseWriter, r *http.Request) {
	s, ok := Registry.Active()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": map[string]string{"id": s.ID(), "kind": string(s.Kind())},
	})
}

// sessionDetail is the inspection payload for one session.
type sessionDetail struct {
	ID       string              `json:"id"`
	Kind     engine.Kind         `json:"kind"`
	ServerID uint                `json:"server_id"`
	Status   string              `json:"status"`
	History  []engine.Transition `json:"history"`
	Events   []engine.Event      `json:"events"`
}

// GetSession returns a session's status, transitions, and events.
func GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	detail := sessionDetail{
		ID:       s.ID(),
		Kind:     s.Kind(),
		ServerID: s.ServerID(),
		Status:   s.Status().String(),
	}
	switch v := s.(type) {
	case *terminal.Session:
		detail.History = v.History()
		detail.Events = v.Events(50)
	case *filebrowser.Session:
		detail.History = v.History()
		detail.Events = v.Events(50)
	}
	writeJSON(w, http.StatusOK, detail)
}

func terminalSession(w http.ResponseWriter, r *http.Request) (*terminal.Session, bool) {
	s, ok := Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	ts, ok := s.(*terminal.Session)
	if !ok {
		writeError(w, http.StatusBadRequest, "Not a terminal session")
		return nil, false
	}
	return ts, true
}

// Scrollback returns a terminal session's retained output.
func Scrollback(w http.ResponseWriter, r *http.Request) {
	ts, ok := terminalSession(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(ts.Scrollback())
}

// ExecWait blocks until an exec-mode session's command completes.
func ExecWait(w http.ResponseWriter, r *http.Request) {
	ts, ok := terminalSession(w, r)
	if !ok {
		return
	}
	res, err := ts.WaitExec(r.Context())
	if err != nil {
		writeError(w, http.StatusGone, "Session closed before completion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exit_code": res.ExitCode,
		"output":    res.Output,
		"timeout":   res.Timeout,
	})
}

// StageUpload stores multipart files to offer when the remote side next
// runs rz on a terminal session.
func StageUpload(w http.ResponseWriter, r *http.Request) {
	ts, ok := terminalSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}

	var offers []zmodem.FileOffer
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to open upload part")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read upload part")
			return
		}
		offers = append(offers, zmodem.FileOffer{
			Info: zmodem.FileInfo{
				Name:    filepath.Base(fh.Filename),
				Size:    uint64(len(data)),
				ModTime: time.Now(),
			},
			Data: bytes.NewReader(data),
		})
	}
	if len(offers) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}

	ts.StageUpload(offers)
	writeJSON(w, http.StatusOK, map[string]int{"staged": len(offers)})
}
