package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/webterm-io/engine/internal/serverstore"
)

type serverRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func serverID(r *http.Request) (uint, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

// ListServers returns the inventory.
func ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": servers})
}

// CreateServer adds a server record.
func CreateServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "Name and host are required")
		return
	}
	srv := &serverstore.Server{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
	}
	if err := Store.Create(srv, req.Password); err != nil {
		writeError(w, http.StatusConflict, "Failed to create server")
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

// GetServer returns one server record.
func GetServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	srv, err := Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// UpdateServer modifies a server record.
func UpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	srv, err := Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name != "" {
		srv.Name = req.Name
	}
	if req.Host != "" {
		srv.Host = req.Host
	}
	if req.Port != 0 {
		srv.Port = req.Port
	}
	if req.Username != "" {
		srv.Username = req.Username
	}
	if err := Store.Update(srv, req.Password); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update server")
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// DeleteServer removes a server record.
func DeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := serverID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if err := Store.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ImportInventory upserts servers from a YAML inventory body.
func ImportInventory(w http.ResponseWriter, r *http.Request) {
	count, err := Store.ImportYAML(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Import failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

// ExportInventory writes the inventory as YAML, without credentials.
func ExportInventory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	if err := Store.ExportYAML(w); err != nil {
		writeError(w, http.StatusInternalServerError, "Export failed")
	}
}
