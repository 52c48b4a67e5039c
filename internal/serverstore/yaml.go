package serverstore

import (
	"fmt"
	"io"
	"log"

	"gopkg.in/yaml.v3"
)

// inventoryEntry is one server in a YAML inventory file.
type inventoryEntry struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type inventory struct {
	Servers []inventoryEntry `yaml:"servers"`
}

// ImportYAML upserts servers from a YAML inventory, keyed by name.
// Returns how many records were created or updated.
func (s *Store) ImportYAML(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var inv inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return 0, fmt.Errorf("parse inventory: %w", err)
	}

	count := 0
	for _, e := range inv.Servers {
		if e.Name == "" || e.Host == "" {
			return count, fmt.Errorf("inventory entry missing name or host")
		}
		var existing Server
		err := s.db.Where("name = ?", e.Name).First(&existing).Error
		if err == nil {
			existing.Host = e.Host
			if e.Port != 0 {
				existing.Port = e.Port
			}
			if e.Username != "" {
				existing.Username = e.Username
			}
			if err := s.Update(&existing, e.Password); err != nil {
				return count, err
			}
			count++
			continue
		}
		srv := &Server{Name: e.Name, Host: e.Host, Port: e.Port, Username: e.Username}
		if err := s.Create(srv, e.Password); err != nil {
			return count, err
		}
		count++
	}
	log.Printf("[serverstore] imported %d servers", count)
	return count, nil
}

// ExportYAML writes the inventory without credentials.
func (s *Store) ExportYAML(w io.Writer) error {
	servers, err := s.List()
	if err != nil {
		return err
	}
	inv := inventory{Servers: make([]inventoryEntry, 0, len(servers))}
	for _, srv := range servers {
		inv.Servers = append(inv.Servers, inventoryEntry{
			Name:     srv.Name,
			Host:     srv.Host,
			Port:     srv.Port,
			Username: srv.Username,
		})
	}
	data, err := yaml.Marshal(&inv)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
