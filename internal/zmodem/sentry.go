package zmodem

import (
	"errors"
	"log"
	"sync"
)

// Sentry inspects a terminal's inbound binary stream. While idle it
// forwards bytes to the terminal output callback and watches for a
// transfer-opening signature; while a transfer is active it routes
// every frame into the transfer instead.
//
// A sentry never takes the session down: any consumption failure or
// panic degrades to rendering the frame as ordinary terminal bytes.
type Sentry struct {
	mu       sync.Mutex
	det      detector
	transfer *Transfer

	output   func([]byte)
	onDetect func(*Detection)
}

// NewSentry wires the fallback output and the detection callback. The
// callback runs synchronously on the transport's delivery goroutine and
// decides whether to Confirm or Deny.
func NewSentry(output func([]byte), onDetect func(*Detection)) *Sentry {
	return &Sentry{output: output, onDetect: onDetect}
}

// Active returns the in-flight transfer, or nil.
func (s *Sentry) Active() *Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer != nil && s.transfer.State() == StateActive {
		return s.transfer
	}
	return nil
}

// Consume processes one inbound binary frame.
func (s *Sentry) Consume(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[zmodem] sentry panic, passing frame through: %v", r)
			s.clear(nil)
			s.output(frame)
		}
	}()

	if t := s.Active(); t != nil {
		if err := t.push(frame); err != nil {
			log.Printf("[zmodem] transfer consume failed: %v", err)
			s.clear(t)
			s.output(frame)
		}
		if t.State() != StateActive {
			s.clear(t)
		}
		return
	}

	dir, idx, found := s.det.scan(frame)
	if !found {
		s.output(frame)
		return
	}

	var initial []byte
	if idx >= 0 {
		if idx > 0 {
			s.output(frame[:idx])
		}
		initial = frame[idx:]
	} else {
		// The signature began in a previous frame whose bytes already
		// went to the terminal; rebuild its prefix so the transfer sees
		// a whole header.
		sig := sigReceive
		if dir == Send {
			sig = sigSend
		}
		initial = append(append([]byte(nil), sig[:-idx]...), frame...)
	}

	d := &Detection{s: s, dir: dir, initial: initial}
	if s.onDetect == nil {
		d.Deny()
		return
	}
	s.onDetect(d)
}

func (s *Sentry) setTransfer(t *Transfer) {
	s.mu.Lock()
	s.transfer = t
	s.mu.Unlock()
}

// clear forgets the transfer if it is still the current one. A nil
// argument clears unconditionally.
func (s *Sentry) clear(t *Transfer) {
	s.mu.Lock()
	if t == nil || s.transfer == t {
		s.transfer = nil
		s.det.reset()
	}
	s.mu.Unlock()
}

// Detection is an unconfirmed signature hit. Exactly one of Confirm or
// Deny must be called.
type Detection struct {
	s       *Sentry
	dir     Direction
	initial []byte
	settled bool
}

// Direction reports which way the proposed transfer would flow.
func (d *Detection) Direction() Direction { return d.dir }

// Confirm starts the transfer. The bytes that carried the signature are
// replayed into it so no protocol state is lost.
func (d *Detection) Confirm(opts Options) (*Transfer, error) {
	if d.settled {
		return nil, errors.New("detection already settled")
	}
	d.settled = true

	t, err := newTransfer(d.dir, opts)
	if err != nil {
		d.s.output(d.initial)
		return nil, err
	}
	d.s.setTransfer(t)

	if err := t.push(d.initial); err != nil {
		d.s.clear(t)
		d.s.output(d.initial)
		return nil, err
	}

	go func() {
		<-t.Done()
		d.s.clear(t)
	}()
	log.Printf("[zmodem] %s transfer started", d.dir)
	return t, nil
}

// Deny declines the transfer; the signature bytes are rendered as
// ordinary terminal output and the remote program will time out.
func (d *Detection) Deny() {
	if d.settled {
		return
	}
	d.settled = true
	d.s.output(d.initial)
}
