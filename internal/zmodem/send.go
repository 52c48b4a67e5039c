package zmodem

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/webterm-io/engine/internal/logutil"
	"github.com/webterm-io/engine/internal/protocol"
)

const (
	// subPacketSize is the payload of one data subpacket.
	subPacketSize = 8 * 1024

	// sendChunkSize is how much file data goes out per write. Between
	// chunks the pump yields so a cancel can interleave.
	sendChunkSize = 2 * 1024 * 1024

	// sendYield is the pause between chunks.
	sendYield = 2 * time.Millisecond

	// awaitTimeout bounds how long the pump waits for the remote's next
	// control header.
	awaitTimeout = 60 * time.Second
)

// sendSession supplies files to a remote rz. Inbound control headers
// arrive on the transport goroutine and are forwarded to the pump
// goroutine, which owns all outbound traffic.
type sendSession struct {
	t       *Transfer
	headers chan event
}

func (s *sendSession) start(t *Transfer) error {
	if len(t.opts.Files) == 0 {
		return errors.New("send transfer with no files")
	}
	s.t = t
	s.headers = make(chan event, 8)
	go s.pump()
	return nil
}

func (s *sendSession) onEvent(ev event) error {
	if ev.kind != evHeader {
		return fmt.Errorf("unexpected data subpacket while sending")
	}
	select {
	case s.headers <- ev:
	default:
		// The pump is not draining; a stuck remote is a failure.
		return errors.New("control header backlog while sending")
	}
	return nil
}

// await blocks until one of the wanted header types arrives. Unwanted
// headers are logged and skipped.
func (s *sendSession) await(want ...int) (event, error) {
	timer := time.NewTimer(awaitTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-s.headers:
			for _, w := range want {
				if ev.ftype == w {
					return ev, nil
				}
			}
			log.Printf("[zmodem] send: ignoring %s", frameName(ev.ftype))
		case <-s.t.done:
			return event{}, protocol.ErrTransferAborted
		case <-timer.C:
			return event{}, fmt.Errorf("timed out waiting for %s", frameName(want[0]))
		}
	}
}

func (s *sendSession) pump() {
	// The detection handed the opening ZRINIT to push, so it is the
	// first header the pump sees.
	if _, err := s.await(ZRINIT); err != nil {
		s.finish(err)
		return
	}

	for _, offer := range s.t.opts.Files {
		if err := s.sendFile(offer); err != nil {
			s.finish(err)
			return
		}
		if s.t.cancelled() {
			s.finish(protocol.ErrTransferAborted)
			return
		}
	}

	if err := s.t.send(hexHeader(ZFIN, stohdr(0))); err != nil {
		s.finish(err)
		return
	}
	if _, err := s.await(ZFIN); err != nil {
		s.finish(err)
		return
	}
	if err := s.t.send(overAndOut()); err != nil {
		s.finish(err)
		return
	}
	s.finish(nil)
}

func (s *sendSession) finish(err error) {
	switch {
	case err == nil:
		s.t.complete()
	case errors.Is(err, protocol.ErrTransferAborted):
		s.t.settle(StateCancelled, nil)
	default:
		log.Printf("[zmodem] send failed: %v", err)
		s.t.fail(err)
	}
}

func (s *sendSession) sendFile(offer FileOffer) error {
	hdr := stohdr(0)
	hdr[ZF0] = ZCBIN
	frame := bin32Header(ZFILE, hdr)
	frame = append(frame, dataSubpacket(encodeFileInfo(offer.Info), ZCRCW)...)
	if err := s.t.send(frame); err != nil {
		return err
	}

	ev, err := s.await(ZRPOS, ZSKIP)
	if err != nil {
		return err
	}
	if ev.ftype == ZSKIP {
		log.Printf("[zmodem] remote skipped %s", logutil.Sanitize(offer.Info.Name))
		return nil
	}

	pos := uint64(rclhdr(ev.hdr))
	if pos > 0 {
		// The reader is sequential, so honor a resume offset by
		// discarding up to it.
		if _, err := io.CopyN(io.Discard, offer.Data, int64(pos)); err != nil {
			return fmt.Errorf("seek to resume offset %d: %w", pos, err)
		}
	}

	end, err := s.sendData(offer, pos)
	if err != nil {
		return err
	}

	if err := s.t.send(hexHeader(ZEOF, stohdr(uint32(end)))); err != nil {
		return err
	}
	_, err = s.await(ZRINIT)
	return err
}

// sendData streams the file body as ZDATA frames and returns the final
// offset. Each chunk is one outbound write composed of streaming
// subpackets, ending with ZCRCE so the next chunk can open a fresh
// ZDATA at its offset.
func (s *sendSession) sendData(offer FileOffer, pos uint64) (uint64, error) {
	buf := make([]byte, subPacketSize)
	eof := false
	for !eof {
		if s.t.cancelled() {
			return pos, protocol.ErrTransferAborted
		}

		frame := bin32Header(ZDATA, stohdr(uint32(pos)))
		chunkBytes := 0
		for chunkBytes < sendChunkSize && !eof {
			n, err := io.ReadFull(offer.Data, buf)
			if err == io.EOF {
				eof = true
				break
			}
			if err == io.ErrUnexpectedEOF {
				eof = true
			} else if err != nil {
				return pos, fmt.Errorf("read %s: %w", logutil.Sanitize(offer.Info.Name), err)
			}
			chunkBytes += n
			pos += uint64(n)

			end := byte(ZCRCG)
			if eof || chunkBytes >= sendChunkSize {
				end = ZCRCE
			}
			frame = append(frame, dataSubpacket(buf[:n], end)...)
		}

		if chunkBytes == 0 {
			// Zero-length file: close the frame immediately.
			frame = append(frame, dataSubpacket(nil, ZCRCE)...)
		}
		if err := s.t.send(frame); err != nil {
			return pos, err
		}
		s.t.progress(offer.Info.Name, pos, offer.Info.Size, eof)

		if !eof {
			time.Sleep(sendYield)
		}
	}
	return pos, nil
}
