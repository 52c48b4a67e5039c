// Package sink provides the streaming-file-sink collaborator used by
// downloads and terminal-embedded receives. Writing chunk by chunk to a
// sink keeps memory bounded by one in-flight chunk rather than the
// whole file.
package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink accepts sequential chunks of one file.
type Sink interface {
	Write(chunk []byte) error
	Close() error
}

// Provider creates sinks. totalSize may be zero when the transfer's
// size is not yet announced.
type Provider interface {
	Create(name string, totalSize uint64) (Sink, error)
}

// DiskProvider writes files into a fixed directory, flattening any path
// components in the requested name so a hostile backend cannot escape it.
type DiskProvider struct {
	Dir string
}

func (p *DiskProvider) Create(name string, totalSize uint64) (Sink, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return nil, fmt.Errorf("invalid sink name %q", name)
	}
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	f, err := os.Create(filepath.Join(p.Dir, base))
	if err != nil {
		return nil, fmt.Errorf("create sink file: %w", err)
	}
	return &fileSink{f: f}, nil
}

type fileSink struct {
	f *os.File
}

func (s *fileSink) Write(chunk []byte) error {
	_, err := s.f.Write(chunk)
	return err
}

func (s *fileSink) Close() error { return s.f.Close() }

// MemoryProvider retains every sink's bytes in memory. Tests use it to
// observe exactly what a transfer produced.
type MemoryProvider struct {
	mu    sync.Mutex
	sinks map[string]*MemorySink
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{sinks: make(map[string]*MemorySink)}
}

func (p *MemoryProvider) Create(name string, totalSize uint64) (Sink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &MemorySink{}
	p.sinks[name] = s
	return s, nil
}

// Get returns the sink created under name, or nil.
func (p *MemoryProvider) Get(name string) *MemorySink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinks[name]
}

// MemorySink accumulates chunks in a buffer.
type MemorySink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *MemorySink) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(chunk)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Bytes returns a copy of everything written so far.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
