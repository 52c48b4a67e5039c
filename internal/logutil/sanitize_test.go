package logutil

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "/var/log/app.log", "/var/log/app.log"},
		{"newline injection", "ok\nFAKE: admin logged in", "ok FAKE: admin logged in"},
		{"carriage return and tab", "a\r\nb\tc", "a  b c"},
		{"control characters stripped", "x\x1b[31mred\x07y", "x[31mredy"},
		{"unicode preserved", "日本語 path", "日本語 path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeTruncatesLongInput(t *testing.T) {
	in := strings.Repeat("a", maxLogged+100)
	got := Sanitize(in)
	if len(got) != maxLogged+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("len = %d, suffix = %q", len(got), got[len(got)-5:])
	}
}
