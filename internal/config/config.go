package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8100"`
	BackendURL  string `envconfig:"BACKEND_URL" default:"ws://127.0.0.1:8022"`
	DataPath    string `envconfig:"DATA_PATH" default:"/var/lib/webterm"`
	LogPath     string `envconfig:"LOG_PATH" default:""`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:""`

	// FernetKey encrypts stored server passwords. Base64url, 32 bytes.
	FernetKey string `envconfig:"FERNET_KEY" default:""`

	// PendingTimeout bounds read_file_content / save_file_content waits.
	PendingTimeout time.Duration `envconfig:"PENDING_TIMEOUT" default:"30s"`
	// UploadWait bounds the wait for the backend's upload-completed
	// success message after the last chunk is sent.
	UploadWait time.Duration `envconfig:"UPLOAD_WAIT" default:"5m"`

	// SessionSweepCron schedules removal of long-disconnected sessions;
	// SessionRetention is how long they linger for inspection first.
	SessionSweepCron string        `envconfig:"SESSION_SWEEP_CRON" default:"@every 10m"`
	SessionRetention time.Duration `envconfig:"SESSION_RETENTION" default:"30m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("WEBTERM", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
