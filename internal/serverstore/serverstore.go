// Package serverstore persists the remote-server inventory sessions
// connect to. Records live in sqlite; passwords are fernet-encrypted at
// rest and decrypted only when connection parameters are built.
package serverstore

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fernet/fernet-go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Server is one connectable remote target. Sessions hold read-only
// snapshots; only the store mutates records.
type Server struct {
	ID                uint      `gorm:"primarykey" json:"id"`
	Name              string    `gorm:"uniqueIndex;not null" json:"name"`
	Host              string    `gorm:"not null" json:"host"`
	Port              int       `json:"port"`
	Username          string    `json:"username"`
	EncryptedPassword string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store wraps the database handle and the encryption key.
type Store struct {
	db  *gorm.DB
	key *fernet.Key
}

// Open connects to the sqlite database at path, migrates the schema,
// and decodes the fernet key protecting stored passwords.
func Open(path, fernetKey string) (*Store, error) {
	keys, err := fernet.DecodeKeys(fernetKey)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Server{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Printf("[serverstore] database ready at %s", path)
	return &Store{db: db, key: keys[0]}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a server, encrypting the given password.
func (s *Store) Create(srv *Server, password string) error {
	if srv.Port == 0 {
		srv.Port = 22
	}
	enc, err := s.encrypt(password)
	if err != nil {
		return err
	}
	srv.EncryptedPassword = enc
	return s.db.Create(srv).Error
}

// Get fetches one server by ID.
func (s *Store) Get(id uint) (*Server, error) {
	var srv Server
	if err := s.db.First(&srv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("server %d not found", id)
		}
		return nil, err
	}
	return &srv, nil
}

// List returns all servers, name-ordered.
func (s *Store) List() ([]Server, error) {
	var out []Server
	if err := s.db.Order("name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Update saves changed fields; a non-empty password is re-encrypted.
func (s *Store) Update(srv *Server, password string) error {
	if password != "" {
		enc, err := s.encrypt(password)
		if err != nil {
			return err
		}
		srv.EncryptedPassword = enc
	}
	return s.db.Save(srv).Error
}

// Delete removes a server by ID.
func (s *Store) Delete(id uint) error {
	return s.db.Delete(&Server{}, id).Error
}

// Password decrypts a server's stored credential.
func (s *Store) Password(srv *Server) (string, error) {
	if srv.EncryptedPassword == "" {
		return "", nil
	}
	plain := fernet.VerifyAndDecrypt([]byte(srv.EncryptedPassword), 0, []*fernet.Key{s.key})
	if plain == nil {
		return "", errors.New("stored password failed verification")
	}
	return string(plain), nil
}

func (s *Store) encrypt(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(password), s.key)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return string(tok), nil
}
