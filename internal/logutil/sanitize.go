package logutil

import "strings"

// maxLogged bounds how much of a remote-supplied string ends up in a log
// line; backends can echo arbitrarily large paths or error payloads.
const maxLogged = 256

// Sanitize removes newlines and control characters from remote-supplied
// strings so a hostile backend cannot inject fake log entries, and caps
// the result at a readable length.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxLogged {
		out = out[:maxLogged] + "..."
	}
	return out
}
