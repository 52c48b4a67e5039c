package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDiskProviderWritesFile(t *testing.T) {
	dir := t.TempDir()
	p := &DiskProvider{Dir: dir}

	s, err := p.Create("report.txt", 11)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Write([]byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("file contents = %q", data)
	}
}

func TestDiskProviderFlattensPaths(t *testing.T) {
	dir := t.TempDir()
	p := &DiskProvider{Dir: dir}

	// A hostile backend cannot climb out of the download directory.
	for _, name := range []string{"../../etc/passwd", "/abs/path/f.bin", `c:\win\style.txt`} {
		s, err := p.Create(name, 0)
		if err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
		s.Write([]byte("x"))
		s.Close()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	got := map[string]bool{}
	for _, e := range entries {
		got[e.Name()] = true
	}
	for _, want := range []string{"passwd", "f.bin", "style.txt"} {
		if !got[want] {
			t.Errorf("flattened file %q missing, have %v", want, got)
		}
	}
}

func TestDiskProviderRejectsEmptyNames(t *testing.T) {
	p := &DiskProvider{Dir: t.TempDir()}
	for _, name := range []string{"", ".", "..", "/"} {
		if _, err := p.Create(name, 0); err == nil {
			t.Errorf("Create(%q) accepted", name)
		}
	}
}

func TestDiskProviderCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet", "there")
	p := &DiskProvider{Dir: dir}
	s, err := p.Create("f", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()
	if _, err := os.Stat(filepath.Join(dir, "f")); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	s, err := p.Create("a.bin", 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Write([]byte("ab"))
	s.Write([]byte("cd"))

	ms := p.Get("a.bin")
	if ms == nil {
		t.Fatal("Get returned nil")
	}
	if !bytes.Equal(ms.Bytes(), []byte("abcd")) {
		t.Errorf("bytes = %q", ms.Bytes())
	}
	if ms.Closed() {
		t.Error("Closed before Close")
	}
	s.Close()
	if !ms.Closed() {
		t.Error("not Closed after Close")
	}

	if p.Get("missing") != nil {
		t.Error("Get(missing) non-nil")
	}
}
