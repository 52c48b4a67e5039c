package terminal

import "sync"

// maxScrollback bounds retained output so a long-lived session cannot
// grow without limit. 256 KiB is plenty to repaint a screen on attach.
const maxScrollback = 256 * 1024

// Scrollback retains the tail of the session's rendered output so an
// emulator attaching mid-session can replay recent history.
type Scrollback struct {
	mu  sync.Mutex
	buf []byte
}

// Append records output bytes, evicting the oldest past capacity.
func (s *Scrollback) Append(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	if len(s.buf) > maxScrollback {
		s.buf = s.buf[len(s.buf)-maxScrollback:]
	}
}

// Bytes returns a copy of the retained output.
func (s *Scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf...)
}

// Len reports how many bytes are retained.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
