package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/webterm-io/engine/internal/filebrowser"
	"github.com/webterm-io/engine/internal/protocol"
)

func browserSession(w http.ResponseWriter, r *http.Request) (*filebrowser.Session, bool) {
	s, ok := Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	fs, ok := s.(*filebrowser.Session)
	if !ok {
		writeError(w, http.StatusBadRequest, "Not a file-browser session")
		return nil, false
	}
	return fs, true
}

type fileRequest struct {
	Path    string `json:"path"`
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Mode    uint32 `json:"mode"`
	Content string `json:"content"`
	Dir     bool   `json:"dir"`
}

func decodeFileRequest(w http.ResponseWriter, r *http.Request) (fileRequest, bool) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return req, false
	}
	return req, true
}

// opStatus maps engine errors to HTTP codes consistently across the
// file operations.
func opStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, protocol.ErrDuplicateRequest),
		errors.Is(err, protocol.ErrUploadInProgress),
		errors.Is(err, protocol.ErrTransferInProgress):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Listing returns the session's current path and entries.
func Listing(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    fs.CurrentPath(),
		"entries": fs.Entries(),
	})
}

// ListDir requests a fresh listing; the result lands in session state.
func ListDir(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := fs.ListDir(req.Path); err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

// CreateDir makes a directory.
func CreateDir(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := fs.CreateDir(req.Path); err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

// Delete removes a file or, when dir is set, a directory.
func Delete(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	var err error
	if req.Dir {
		err = fs.DeleteDir(req.Path)
	} else {
		err = fs.DeleteFile(req.Path)
	}
	if err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

// Rename moves a file or directory.
func Rename(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := fs.Rename(req.OldPath, req.NewPath); err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

// Chmod changes a path's permissions.
func Chmod(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := fs.SetPermissions(req.Path, req.Mode); err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

// Attr fetches a path's attributes, waiting for the correlated reply.
func Attr(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	attr, err := fs.GetAttr(r.Context(), req.Path)
	if err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, attr)
}

// ReadFile fetches a file's text content.
func ReadFile(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	content, err := fs.ReadFile(r.Context(), req.Path)
	if err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "content": content})
}

// SaveFile writes text content to a file.
func SaveFile(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := fs.SaveFile(r.Context(), req.Path, req.Content); err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Upload streams a multipart file to the remote path. Rejects with 409
// while another upload is in flight.
func Upload(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}

	remotePath := r.URL.Query().Get("path")
	if remotePath == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file form field required")
		return
	}
	defer file.Close()

	target := remotePath + "/" + filepath.Base(header.Filename)
	if err := fs.Upload(r.Context(), target, file, uint64(header.Size)); err != nil {
		if errors.Is(err, protocol.ErrTransferAborted) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
			return
		}
		writeError(w, opStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

// CancelUpload requests cooperative cancellation of the in-flight
// upload.
func CancelUpload(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	fs.CancelUpload()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// Download fetches a remote file and streams it back to the caller,
// also leaving a copy in the download directory sink.
func Download(w http.ResponseWriter, r *http.Request) {
	fs, ok := browserSession(w, r)
	if !ok {
		return
	}
	req, ok := decodeFileRequest(w, r)
	if !ok {
		return
	}

	var blob []byte
	err := fs.Download(r.Context(), req.Path, func(b []byte) { blob = b })
	if err != nil {
		writeError(w, opStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(req.Path)+"\"")
	w.Write(blob)
}
