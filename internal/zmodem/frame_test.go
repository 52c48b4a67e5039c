package zmodem

import (
	"bytes"
	"testing"
)

func TestCRC16KnownValue(t *testing.T) {
	var crc uint16
	for _, b := range []byte("123456789") {
		crc = updcrc16(b, crc)
	}
	if crc != 0x31C3 {
		t.Errorf("crc16(123456789) = %#04x, want 0x31c3", crc)
	}
}

func TestCRC16FinalizeResidue(t *testing.T) {
	data := []byte{0x09, 0x01, 0x02, 0x03, 0x04}
	var crc uint16
	for _, b := range data {
		crc = updcrc16(b, crc)
	}
	fin := crc16Finalize(crc)

	var check uint16
	for _, b := range append(append([]byte(nil), data...), byte(fin>>8), byte(fin)) {
		check = updcrc16(b, check)
	}
	if check != 0 {
		t.Errorf("residue = %#04x, want 0", check)
	}
}

func TestCRC32Residue(t *testing.T) {
	data := []byte("123456789")
	crc := updcrc32Bytes(data, 0xFFFFFFFF)
	if ^crc != 0xCBF43926 {
		t.Errorf("crc32(123456789) = %#08x, want 0xcbf43926", ^crc)
	}

	tx := ^crc
	var crcb [4]byte
	for i := 0; i < 4; i++ {
		crcb[i] = byte(tx)
		tx >>= 8
	}
	if got := updcrc32Bytes(crcb[:], crc); got != crc32Check {
		t.Errorf("residue = %#08x, want %#08x", got, uint32(crc32Check))
	}
}

func TestHexHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		ftype int
		pos   uint32
	}{
		{ZRINIT, 0},
		{ZRPOS, 1234567},
		{ZACK, 0xFFFFFFFF},
		{ZFIN, 0},
	}
	for _, tc := range cases {
		var p parser
		p.feed(hexHeader(tc.ftype, stohdr(tc.pos)))
		ev, ok, err := p.next()
		if err != nil || !ok {
			t.Fatalf("%s: next = (%v, %v)", frameName(tc.ftype), ok, err)
		}
		if ev.kind != evHeader || ev.ftype != tc.ftype {
			t.Errorf("%s: got type %s", frameName(tc.ftype), frameName(ev.ftype))
		}
		if got := rclhdr(ev.hdr); got != tc.pos {
			t.Errorf("%s: pos = %d, want %d", frameName(tc.ftype), got, tc.pos)
		}
	}
}

func TestBin32HeaderRoundTrip(t *testing.T) {
	var p parser
	p.feed(bin32Header(ZDATA, stohdr(987654)))
	ev, ok, err := p.next()
	if err != nil || !ok {
		t.Fatalf("next = (%v, %v)", ok, err)
	}
	if ev.ftype != ZDATA || rclhdr(ev.hdr) != 987654 {
		t.Errorf("got %s pos %d", frameName(ev.ftype), rclhdr(ev.hdr))
	}
}

func TestSubpacketRoundTripWithEscapes(t *testing.T) {
	data := []byte{0x00, ZDLE, 0x11, 0x13, 0x90, 0x91, 0x7F, 0xFF, 'a', 'b'}

	var p parser
	p.feed(bin32Header(ZDATA, stohdr(0)))
	if _, ok, err := p.next(); !ok || err != nil {
		t.Fatalf("header: (%v, %v)", ok, err)
	}
	p.expectData(true)
	p.feed(dataSubpacket(data, ZCRCE))

	ev, ok, err := p.next()
	if err != nil || !ok {
		t.Fatalf("subpacket: (%v, %v)", ok, err)
	}
	if ev.kind != evData || ev.end != ZCRCE {
		t.Fatalf("kind=%d end=%q", ev.kind, ev.end)
	}
	if !bytes.Equal(ev.data, data) {
		t.Errorf("data = %v, want %v", ev.data, data)
	}
	if p.inData {
		t.Error("parser still in data mode after ZCRCE")
	}
}

func TestParserHandlesSplitDelivery(t *testing.T) {
	payload := []byte("split across many tiny reads")
	stream := append(bin32Header(ZDATA, stohdr(42)), dataSubpacket(payload, ZCRCG)...)

	var p parser
	var events []event
	for _, b := range stream {
		p.feed([]byte{b})
		for {
			ev, ok, err := p.next()
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if !ok {
				break
			}
			events = append(events, ev)
			if ev.kind == evHeader && ev.ftype == ZDATA {
				p.expectData(true)
			}
		}
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if rclhdr(events[0].hdr) != 42 {
		t.Errorf("pos = %d, want 42", rclhdr(events[0].hdr))
	}
	if !bytes.Equal(events[1].data, payload) {
		t.Errorf("payload mismatch")
	}
}

func TestParserSkipsGarbageBeforeHeader(t *testing.T) {
	var p parser
	p.feed([]byte("rz waiting to receive.\r\n"))
	if _, ok, _ := p.next(); ok {
		t.Fatal("event from pure garbage")
	}
	p.feed(hexHeader(ZRINIT, stohdr(0)))
	ev, ok, err := p.next()
	if err != nil || !ok || ev.ftype != ZRINIT {
		t.Fatalf("next = (%v, %v, %s)", ok, err, frameName(ev.ftype))
	}
}

func TestCanBurstAborts(t *testing.T) {
	var p parser
	p.feed([]byte{CAN, CAN, CAN, CAN, CAN, CAN})
	ev, ok, err := p.next()
	if err != nil || !ok {
		t.Fatalf("next = (%v, %v)", ok, err)
	}
	if ev.kind != evAbort {
		t.Errorf("kind = %d, want abort", ev.kind)
	}
}

func TestCorruptHeaderResynchronizes(t *testing.T) {
	bad := hexHeader(ZRPOS, stohdr(10))
	bad[8] ^= 0xFF // corrupt a hex digit

	var p parser
	p.feed(bad)
	p.feed(hexHeader(ZACK, stohdr(10)))
	ev, ok, err := p.next()
	if err != nil || !ok {
		t.Fatalf("next = (%v, %v)", ok, err)
	}
	if ev.ftype != ZACK {
		t.Errorf("got %s, want ZACK", frameName(ev.ftype))
	}
}
