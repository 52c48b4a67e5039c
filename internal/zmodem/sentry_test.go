package zmodem

import (
	"bytes"
	"testing"

	"github.com/webterm-io/engine/internal/sink"
)

func TestSentryPassesPlainOutputThrough(t *testing.T) {
	var rendered bytes.Buffer
	s := NewSentry(func(b []byte) { rendered.Write(b) }, nil)

	s.Consume([]byte("ls -la\r\n"))
	s.Consume([]byte("total 42\r\n"))

	if got := rendered.String(); got != "ls -la\r\ntotal 42\r\n" {
		t.Errorf("rendered = %q", got)
	}
	if s.Active() != nil {
		t.Error("active transfer with no signature seen")
	}
}

func TestSentryDenyRendersSignature(t *testing.T) {
	var rendered bytes.Buffer
	s := NewSentry(func(b []byte) { rendered.Write(b) }, func(d *Detection) {
		if d.Direction() != Receive {
			t.Errorf("direction = %s, want receive", d.Direction())
		}
		d.Deny()
	})

	frame := append([]byte("sz starting\r\n"), hexHeader(ZRQINIT, stohdr(0))...)
	s.Consume(frame)

	if !bytes.Equal(rendered.Bytes(), frame) {
		t.Error("denied signature bytes were swallowed")
	}
	if s.Active() != nil {
		t.Error("deny left a transfer active")
	}
}

func TestSentryNilCallbackDenies(t *testing.T) {
	var rendered bytes.Buffer
	s := NewSentry(func(b []byte) { rendered.Write(b) }, nil)

	header := hexHeader(ZRQINIT, stohdr(0))
	s.Consume(header)

	if !bytes.Equal(rendered.Bytes(), header) {
		t.Error("signature not rendered when no callback is wired")
	}
}

func TestSentryConfirmReceiveEndToEnd(t *testing.T) {
	content := []byte("payload carried inside the terminal stream")

	var rendered bytes.Buffer
	var tr *Transfer
	s := NewSentry(func(b []byte) { rendered.Write(b) }, func(d *Detection) {
		var err error
		tr, err = d.Confirm(Options{Output: func([]byte) error { return nil }})
		if err != nil {
			t.Errorf("Confirm: %v", err)
		}
	})

	s.Consume(append([]byte("$ sz payload\r\n"), hexHeader(ZRQINIT, stohdr(0))...))
	if tr == nil {
		t.Fatal("detection never fired")
	}
	if s.Active() != tr {
		t.Fatal("confirmed transfer not active")
	}

	fileFrame := bin32Header(ZFILE, stohdr(0))
	fileFrame = append(fileFrame, dataSubpacket(encodeFileInfo(FileInfo{Name: "payload", Size: uint64(len(content))}), ZCRCW)...)
	s.Consume(fileFrame)

	dataFrame := bin32Header(ZDATA, stohdr(0))
	dataFrame = append(dataFrame, dataSubpacket(content, ZCRCE)...)
	dataFrame = append(dataFrame, hexHeader(ZEOF, stohdr(uint32(len(content))))...)
	s.Consume(dataFrame)
	s.Consume(hexHeader(ZFIN, stohdr(0)))

	if tr.State() != StateCompleted {
		t.Fatalf("state = %s, err %v", tr.State(), tr.Err())
	}
	if s.Active() != nil {
		t.Error("settled transfer still active")
	}

	// Only the bytes before the signature reached the terminal.
	if got := rendered.String(); got != "$ sz payload\r\n" {
		t.Errorf("rendered = %q", got)
	}

	ms := tr.opts.Sinks.(*sink.MemoryProvider).Get("payload")
	if ms == nil || !bytes.Equal(ms.Bytes(), content) {
		t.Error("received file does not match")
	}
}

func TestSentrySplitSignatureReplaysWholeHeader(t *testing.T) {
	header := hexHeader(ZRQINIT, stohdr(0))

	rec := &replyRecorder{}
	var rendered bytes.Buffer
	s := NewSentry(func(b []byte) { rendered.Write(b) }, func(d *Detection) {
		if _, err := d.Confirm(Options{Output: rec.write}); err != nil {
			t.Errorf("Confirm: %v", err)
		}
	})

	// The signature straddles two frames; the first part has already been
	// rendered by the time the hit lands.
	s.Consume(append([]byte("motd "), header[:3]...))
	s.Consume(header[3:])

	if s.Active() == nil {
		t.Fatal("transfer not started from split signature")
	}
	types := rec.headerTypes(t)
	if len(types) != 1 || types[0] != ZRINIT {
		t.Fatalf("replies = %v, want one ZRINIT", types)
	}
}

func TestSentryFailureFallsBackToTerminal(t *testing.T) {
	var rendered bytes.Buffer
	s := NewSentry(func(b []byte) { rendered.Write(b) }, func(d *Detection) {
		d.Confirm(Options{Output: func([]byte) error { return nil }})
	})

	s.Consume(hexHeader(ZRQINIT, stohdr(0)))
	if s.Active() == nil {
		t.Fatal("transfer not started")
	}

	// Data at a nonzero offset with no file open is a protocol error; the
	// sentry must recover and hand the bytes to the terminal.
	bad := bin32Header(ZDATA, stohdr(50))
	s.Consume(bad)

	if s.Active() != nil {
		t.Error("failed transfer still active")
	}
	if !bytes.Contains(rendered.Bytes(), bad) {
		t.Error("failing frame was not rendered")
	}

	s.Consume([]byte("back to the shell"))
	if !bytes.Contains(rendered.Bytes(), []byte("back to the shell")) {
		t.Error("post-failure output not rendered")
	}
}
