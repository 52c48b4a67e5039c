package zmodem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// errPeerCancelled is surfaced when the remote aborts with a CAN burst.
var errPeerCancelled = errors.New("peer cancelled transfer")

const hexDigits = "0123456789abcdef"

// stohdr stores a 32-bit value, low byte first, into header bytes. File
// positions and ZRINIT buffer sizes travel this way.
func stohdr(v uint32) [4]byte {
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], v)
	return h
}

// rclhdr recovers the 32-bit value from header bytes.
func rclhdr(h [4]byte) uint32 {
	return binary.LittleEndian.Uint32(h[:])
}

// needsEscape reports whether b must be ZDLE-escaped on the wire.
func needsEscape(b byte) bool {
	switch b {
	case ZDLE, 0x10, 0x11, 0x13, 0x90, 0x91, 0x93:
		return true
	}
	return false
}

func appendEscaped(dst []byte, b byte) []byte {
	if needsEscape(b) {
		return append(dst, ZDLE, b^0x40)
	}
	return append(dst, b)
}

// hexHeader encodes a control header in hex framing, CRC-16 protected.
// ZACK and ZFIN omit the trailing XON so the tail of the session stays
// quiet.
func hexHeader(ftype int, hdr [4]byte) []byte {
	out := []byte{ZPAD, ZPAD, ZDLE, ZHEX}

	vals := [5]byte{byte(ftype), hdr[0], hdr[1], hdr[2], hdr[3]}
	var crc uint16
	for _, v := range vals {
		crc = updcrc16(v, crc)
	}
	crc = crc16Finalize(crc)

	for _, v := range vals {
		out = append(out, hexDigits[v>>4], hexDigits[v&0x0F])
	}
	for _, v := range [2]byte{byte(crc >> 8), byte(crc)} {
		out = append(out, hexDigits[v>>4], hexDigits[v&0x0F])
	}

	out = append(out, '\r', 0x8A)
	if ftype != ZFIN && ftype != ZACK {
		out = append(out, XON)
	}
	return out
}

// bin32Header encodes a binary header with 32-bit CRC. Used for frames
// that carry data subpackets (ZFILE, ZDATA, ZEOF).
func bin32Header(ftype int, hdr [4]byte) []byte {
	out := []byte{ZPAD, ZDLE, ZBIN32}

	vals := [5]byte{byte(ftype), hdr[0], hdr[1], hdr[2], hdr[3]}
	crc := uint32(0xFFFFFFFF)
	for _, v := range vals {
		out = appendEscaped(out, v)
		crc = updcrc32(v, crc)
	}
	crc = ^crc
	for i := 0; i < 4; i++ {
		out = appendEscaped(out, byte(crc))
		crc >>= 8
	}
	return out
}

// dataSubpacket encodes one ZDLE-escaped, CRC32-protected data
// subpacket ending with the given ZCRC terminator.
func dataSubpacket(data []byte, end byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/16+8)
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		out = appendEscaped(out, b)
		crc = updcrc32(b, crc)
	}
	out = append(out, ZDLE, end)
	crc = updcrc32(end, crc)
	crc = ^crc
	for i := 0; i < 4; i++ {
		out = appendEscaped(out, byte(crc))
		crc >>= 8
	}
	return out
}

// abortSequence is the CAN burst plus backspaces that kills the remote
// program and erases its echo.
func abortSequence() []byte {
	return []byte{CAN, CAN, CAN, CAN, CAN, CAN, CAN, CAN, 8, 8, 8, 8, 8, 8, 8, 8}
}

// overAndOut terminates a session after the final ZFIN exchange.
func overAndOut() []byte { return []byte{'O', 'O'} }

type eventKind int

const (
	evHeader eventKind = iota
	evData
	evAbort
)

// event is one decoded protocol element.
type event struct {
	kind  eventKind
	ftype int
	hdr   [4]byte
	data  []byte
	end   byte
}

// parser incrementally decodes headers and data subpackets from a byte
// stream whose message boundaries carry no meaning. Bytes outside frame
// structure (shell echo, line noise, the closing "OO") are discarded.
type parser struct {
	buf    []byte
	inData bool
}

func (p *parser) feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// expectData switches the parser into subpacket mode. Sessions call it
// after a ZFILE or ZDATA header, whose payload follows as subpackets.
func (p *parser) expectData(on bool) { p.inData = on }

// next decodes the next complete element, reporting ok=false when the
// buffer holds only a partial element.
func (p *parser) next() (event, bool, error) {
	for {
		if p.inData {
			ev, n, complete, err := parseSubpacket(p.buf)
			if err != nil {
				p.buf = nil
				p.inData = false
				return event{}, false, err
			}
			if !complete {
				return event{}, false, nil
			}
			p.buf = p.buf[n:]
			if ev.end == ZCRCE || ev.end == ZCRCW {
				p.inData = false
			}
			return ev, true, nil
		}

		start, abort := findFrameStart(p.buf)
		if abort {
			p.buf = nil
			return event{kind: evAbort}, true, nil
		}
		if start < 0 {
			// Keep a short tail in case a frame start straddles reads.
			if len(p.buf) > 4 {
				p.buf = p.buf[len(p.buf)-4:]
			}
			return event{}, false, nil
		}
		p.buf = p.buf[start:]

		ev, n, complete, err := parseHeader(p.buf)
		if err != nil {
			// Garbled header: resynchronize past this ZPAD.
			p.buf = p.buf[1:]
			continue
		}
		if !complete {
			return event{}, false, nil
		}
		p.buf = p.buf[n:]
		return ev, true, nil
	}
}

// findFrameStart locates the first plausible header start (ZPAD
// followed eventually by ZDLE). It reports abort when a run of five or
// more CANs appears before any frame.
func findFrameStart(buf []byte) (int, bool) {
	cans := 0
	for i, b := range buf {
		if b == CAN {
			cans++
			if cans >= 5 {
				return 0, true
			}
			continue
		}
		cans = 0
		if b == ZPAD {
			return i, false
		}
	}
	return -1, false
}

// parseHeader decodes one header starting at a ZPAD. Returns the
// consumed length and completeness; a malformed header is an error so
// the caller can resynchronize.
func parseHeader(buf []byte) (event, int, bool, error) {
	i := 0
	for i < len(buf) && buf[i] == ZPAD {
		i++
		if i > 2 {
			return event{}, 0, false, errors.New("excess padding")
		}
	}
	if i >= len(buf) {
		return event{}, 0, false, nil
	}
	if buf[i] != ZDLE {
		return event{}, 0, false, fmt.Errorf("expected ZDLE, got %#02x", buf[i])
	}
	i++
	if i >= len(buf) {
		return event{}, 0, false, nil
	}

	switch buf[i] {
	case ZHEX:
		return parseHexHeader(buf, i+1)
	case ZBIN32:
		return parseBin32Header(buf, i+1)
	default:
		return event{}, 0, false, fmt.Errorf("unsupported frame encoding %#02x", buf[i])
	}
}

func hexVal(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}

func parseHexHeader(buf []byte, i int) (event, int, bool, error) {
	if len(buf)-i < 14 {
		return event{}, 0, false, nil
	}
	var vals [7]byte
	for j := 0; j < 7; j++ {
		hi, ok1 := hexVal(buf[i+2*j])
		lo, ok2 := hexVal(buf[i+2*j+1])
		if !ok1 || !ok2 {
			return event{}, 0, false, errors.New("bad hex digit in header")
		}
		vals[j] = hi<<4 | lo
	}
	var crc uint16
	for _, v := range vals {
		crc = updcrc16(v, crc)
	}
	if crc != 0 {
		return event{}, 0, false, errors.New("hex header crc mismatch")
	}
	i += 14
	// Swallow the line terminator and optional XON.
	for i < len(buf) {
		b := buf[i]
		if b == '\r' || b == '\n' || b == 0x8A || b == 0x8D || b == XON {
			i++
			continue
		}
		break
	}
	ev := event{kind: evHeader, ftype: int(vals[0])}
	copy(ev.hdr[:], vals[1:5])
	return ev, i, true, nil
}

func parseBin32Header(buf []byte, i int) (event, int, bool, error) {
	raw := make([]byte, 0, 9)
	for len(raw) < 9 {
		if i >= len(buf) {
			return event{}, 0, false, nil
		}
		b := buf[i]
		if b != ZDLE {
			raw = append(raw, b)
			i++
			continue
		}
		if i+1 >= len(buf) {
			return event{}, 0, false, nil
		}
		c := buf[i+1]
		i += 2
		switch {
		case c == ZRUB0:
			raw = append(raw, 0x7F)
		case c == ZRUB1:
			raw = append(raw, 0xFF)
		case c&0x60 == 0x40:
			raw = append(raw, c^0x40)
		default:
			return event{}, 0, false, fmt.Errorf("bad escape %#02x in binary header", c)
		}
	}
	if updcrc32Bytes(raw, 0xFFFFFFFF) != crc32Check {
		return event{}, 0, false, errors.New("binary header crc mismatch")
	}
	ev := event{kind: evHeader, ftype: int(raw[0])}
	copy(ev.hdr[:], raw[1:5])
	return ev, i, true, nil
}

// parseSubpacket decodes one ZDLE-escaped data subpacket with its
// 32-bit CRC.
func parseSubpacket(buf []byte) (event, int, bool, error) {
	out := make([]byte, 0, len(buf))
	i := 0
	for {
		if i >= len(buf) {
			return event{}, 0, false, nil
		}
		b := buf[i]
		if b != ZDLE {
			out = append(out, b)
			i++
			continue
		}
		if i+1 >= len(buf) {
			return event{}, 0, false, nil
		}
		c := buf[i+1]
		i += 2
		switch {
		case c == ZCRCE || c == ZCRCG || c == ZCRCQ || c == ZCRCW:
			crcb := make([]byte, 0, 4)
			for len(crcb) < 4 {
				if i >= len(buf) {
					return event{}, 0, false, nil
				}
				b := buf[i]
				if b != ZDLE {
					crcb = append(crcb, b)
					i++
					continue
				}
				if i+1 >= len(buf) {
					return event{}, 0, false, nil
				}
				e := buf[i+1]
				i += 2
				switch {
				case e == ZRUB0:
					crcb = append(crcb, 0x7F)
				case e == ZRUB1:
					crcb = append(crcb, 0xFF)
				case e&0x60 == 0x40:
					crcb = append(crcb, e^0x40)
				default:
					return event{}, 0, false, fmt.Errorf("bad escape %#02x in crc", e)
				}
			}
			crc := updcrc32Bytes(out, 0xFFFFFFFF)
			crc = updcrc32(c, crc)
			crc = updcrc32Bytes(crcb, crc)
			if crc != crc32Check {
				return event{}, 0, false, errors.New("subpacket crc mismatch")
			}
			return event{kind: evData, data: out, end: c}, i, true, nil
		case c == ZRUB0:
			out = append(out, 0x7F)
		case c == ZRUB1:
			out = append(out, 0xFF)
		case c == CAN:
			return event{}, 0, false, errPeerCancelled
		case c&0x60 == 0x40:
			out = append(out, c^0x40)
		default:
			return event{}, 0, false, fmt.Errorf("bad escape %#02x in data", c)
		}
	}
}
