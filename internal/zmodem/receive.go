package zmodem

import (
	"fmt"
	"log"

	"github.com/webterm-io/engine/internal/logutil"
	"github.com/webterm-io/engine/internal/sink"
)

// receiveSession accepts files from a remote sz. It is purely reactive:
// every step is a response to a decoded inbound element, so it runs
// entirely on the transport's delivery goroutine.
type receiveSession struct {
	t *Transfer

	sink     sink.Sink
	info     FileInfo
	received uint64
	blob     []byte

	awaitingFile bool
	inSinit      bool
}

func (s *receiveSession) start(t *Transfer) error {
	s.t = t
	return s.sendRinit()
}

// sendRinit advertises full-duplex streaming with 32-bit CRCs and no
// window limit. Sent at session start and again after each file.
func (s *receiveSession) sendRinit() error {
	hdr := stohdr(0)
	hdr[ZF0] = CANFDX | CANOVIO | CANFC32
	return s.t.send(hexHeader(ZRINIT, hdr))
}

func (s *receiveSession) onEvent(ev event) error {
	if ev.kind == evData {
		return s.onData(ev)
	}

	switch ev.ftype {
	case ZRQINIT:
		return s.sendRinit()

	case ZSINIT:
		s.inSinit = true
		s.t.parser.expectData(true)
		return nil

	case ZFILE:
		s.awaitingFile = true
		s.t.parser.expectData(true)
		return nil

	case ZDATA:
		pos := uint64(rclhdr(ev.hdr))
		if pos != s.received {
			return fmt.Errorf("data at offset %d, expected %d", pos, s.received)
		}
		s.t.parser.expectData(true)
		return nil

	case ZEOF:
		return s.endFile(uint64(rclhdr(ev.hdr)))

	case ZFIN:
		if err := s.t.send(hexHeader(ZFIN, stohdr(0))); err != nil {
			return err
		}
		if err := s.t.send(overAndOut()); err != nil {
			return err
		}
		s.t.complete()
		return nil

	case ZFREECNT:
		return s.t.send(hexHeader(ZACK, stohdr(0xFFFFFFFF)))

	case ZABORT, ZFERR, ZCAN:
		s.t.settle(StateCancelled, nil)
		return nil

	default:
		log.Printf("[zmodem] receive: ignoring %s", frameName(ev.ftype))
		return nil
	}
}

func (s *receiveSession) onData(ev event) error {
	if s.inSinit {
		s.inSinit = false
		return s.t.send(hexHeader(ZACK, stohdr(0)))
	}

	if s.awaitingFile {
		s.awaitingFile = false
		return s.openFile(ev.data)
	}

	if s.sink == nil {
		return fmt.Errorf("data subpacket with no open file")
	}
	if err := s.sink.Write(ev.data); err != nil {
		return fmt.Errorf("sink write: %w", err)
	}
	s.received += uint64(len(ev.data))
	if s.t.opts.OnBlob != nil {
		s.blob = append(s.blob, ev.data...)
	}
	s.t.progress(s.info.Name, s.received, s.info.Size, false)

	if ev.end == ZCRCQ || ev.end == ZCRCW {
		return s.t.send(hexHeader(ZACK, stohdr(uint32(s.received))))
	}
	return nil
}

func (s *receiveSession) openFile(payload []byte) error {
	fi, err := parseFileInfo(payload)
	if err != nil {
		return err
	}
	sk, err := s.t.opts.Sinks.Create(fi.Name, fi.Size)
	if err != nil {
		return fmt.Errorf("open sink for %s: %w", logutil.Sanitize(fi.Name), err)
	}
	s.sink = sk
	s.info = fi
	s.received = 0
	s.blob = nil
	log.Printf("[zmodem] receiving %s (%d bytes)", logutil.Sanitize(fi.Name), fi.Size)
	return s.t.send(hexHeader(ZRPOS, stohdr(0)))
}

func (s *receiveSession) endFile(pos uint64) error {
	if s.sink == nil {
		return fmt.Errorf("end of file with no open file")
	}
	if pos != s.received {
		return fmt.Errorf("end of file at %d, received %d", pos, s.received)
	}
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("sink close: %w", err)
	}
	s.t.progress(s.info.Name, s.received, s.info.Size, true)
	if s.t.opts.OnBlob != nil {
		s.t.opts.OnBlob(s.info.Name, s.blob)
		s.blob = nil
	}
	log.Printf("[zmodem] received %s (%d bytes)", logutil.Sanitize(s.info.Name), s.received)
	s.sink = nil
	return s.sendRinit()
}
