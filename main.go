package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/webterm-io/engine/internal/config"
	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/handlers"
	"github.com/webterm-io/engine/internal/logging"
	"github.com/webterm-io/engine/internal/pending"
	"github.com/webterm-io/engine/internal/serverstore"
)

func main() {
	config.Load()
	logging.Init()

	store, err := serverstore.Open(databasePath(), fernetKey())
	if err != nil {
		log.Fatalf("Server store init: %v", err)
	}
	defer store.Close()

	registry := engine.NewRegistry()

	handlers.Registry = registry
	handlers.Store = store
	handlers.Correlator = pending.New()

	// Periodically evict sessions that have stayed disconnected past
	// the retention window.
	sched := cron.New()
	if _, err := sched.AddFunc(config.Cfg.SessionSweepCron, func() {
		registry.Sweep(config.Cfg.SessionRetention)
	}); err != nil {
		log.Fatalf("Sweep schedule %q: %v", config.Cfg.SessionSweepCron, err)
	}
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.Health)
	r.Get("/logs", handlers.Logs)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/servers", handlers.ListServers)
		r.Post("/servers", handlers.CreateServer)
		r.Get("/servers/{id}", handlers.GetServer)
		r.Put("/servers/{id}", handlers.UpdateServer)
		r.Delete("/servers/{id}", handlers.DeleteServer)
		r.Post("/servers/import", handlers.ImportInventory)
		r.Get("/servers/export", handlers.ExportInventory)

		r.Get("/sessions", handlers.ListSessions)
		r.Post("/sessions", handlers.Connect)
		r.Get("/sessions/active", handlers.ActiveSession)
		r.Get("/sessions/{id}", handlers.GetSession)
		r.Delete("/sessions/{id}", handlers.Disconnect)
		r.Post("/sessions/{id}/activate", handlers.Activate)

		// Terminal sessions
		r.Get("/sessions/{id}/attach", handlers.Attach)
		r.Get("/sessions/{id}/scrollback", handlers.Scrollback)
		r.Get("/sessions/{id}/exec", handlers.ExecWait)
		r.Post("/sessions/{id}/stage-upload", handlers.StageUpload)

		// File-browser sessions
		r.Get("/sessions/{id}/files", handlers.Listing)
		r.Post("/sessions/{id}/files/list", handlers.ListDir)
		r.Post("/sessions/{id}/files/mkdir", handlers.CreateDir)
		r.Post("/sessions/{id}/files/delete", handlers.Delete)
		r.Post("/sessions/{id}/files/rename", handlers.Rename)
		r.Post("/sessions/{id}/files/chmod", handlers.Chmod)
		r.Post("/sessions/{id}/files/attr", handlers.Attr)
		r.Post("/sessions/{id}/files/read", handlers.ReadFile)
		r.Post("/sessions/{id}/files/save", handlers.SaveFile)
		r.Post("/sessions/{id}/files/upload", handlers.Upload)
		r.Post("/sessions/{id}/files/upload/cancel", handlers.CancelUpload)
		r.Post("/sessions/{id}/files/download", handlers.Download)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Engine daemon listening on %s (backend %s)", config.Cfg.ListenAddr, config.Cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	for _, info := range registry.List() {
		registry.Disconnect(info.ID)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func databasePath() string {
	if err := os.MkdirAll(config.Cfg.DataPath, 0755); err != nil {
		log.Fatalf("Create data dir: %v", err)
	}
	return filepath.Join(config.Cfg.DataPath, "webterm.db")
}

// fernetKey returns the configured password-encryption key, generating
// and persisting one on first run so a bare deployment works.
func fernetKey() string {
	if config.Cfg.FernetKey != "" {
		return config.Cfg.FernetKey
	}

	keyPath := filepath.Join(config.Cfg.DataPath, "fernet.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		return string(data)
	}

	var key fernet.Key
	if err := key.Generate(); err != nil {
		log.Fatalf("Generate fernet key: %v", err)
	}
	encoded := key.Encode()
	if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
		log.Fatalf("Persist fernet key: %v", err)
	}
	log.Printf("Generated password-encryption key at %s", keyPath)
	return encoded
}
