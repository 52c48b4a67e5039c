// Package zmodem implements the embedded terminal file-transfer
// sub-protocol: signature detection on an inbound binary stream, and
// send/receive transfer sessions that own the channel until the
// exchange concludes.
//
// The framing follows lrzsz: hex headers for control traffic, ZBIN32
// binary headers with ZDLE-escaped CRC32 data subpackets for payload.
package zmodem

// Frame format indicators.
const (
	// ZPAD is the padding character that begins frames.
	ZPAD = '*'

	// ZDLE is the ZModem escape character (Ctrl-X).
	ZDLE = 0x18

	// ZBIN32 indicates a binary frame with 32-bit CRC.
	ZBIN32 = 'C'

	// ZHEX indicates a hex-encoded frame.
	ZHEX = 'B'
)

// Frame types.
const (
	ZRQINIT = iota // Request receive init
	ZRINIT         // Receive init
	ZSINIT         // Send init sequence (optional)
	ZACK           // ACK to above
	ZFILE          // File name from sender
	ZSKIP          // To sender: skip this file
	ZNAK           // Last packet was garbled
	ZABORT         // Abort batch transfers
	ZFIN           // Finish session
	ZRPOS          // Resume data trans at this position
	ZDATA          // Data packet(s) follow
	ZEOF           // End of file
	ZFERR          // Fatal read or write error detected
	ZCRC           // Request for file CRC and response
	ZCHALLENGE     // Receiver's challenge
	ZCOMPL         // Request is complete
	ZCAN           // Other end cancelled session with CAN*5
	ZFREECNT       // Request for free bytes on filesystem
	ZCOMMAND       // Command from sending program
	ZSTDERR        // Output to standard error, data follows
)

// ZDLE sequences terminating a data subpacket.
const (
	ZCRCE = 'h' // CRC next, frame ends, header packet follows
	ZCRCG = 'i' // CRC next, frame continues nonstop
	ZCRCQ = 'j' // CRC next, frame continues, ZACK expected
	ZCRCW = 'k' // CRC next, ZACK expected, end of frame
	ZRUB0 = 'l' // Translate to rubout 0177
	ZRUB1 = 'm' // Translate to rubout 0377
)

// Bit masks for the ZRINIT flags byte ZF0.
const (
	CANFDX  = 0x01 // Rx can send and receive true FDX
	CANOVIO = 0x02 // Rx can receive data during disk I/O
	CANFC32 = 0x20 // Rx can use 32 bit frame check
)

// ZF0 conversion option for ZFILE: binary transfer.
const ZCBIN = 1

// Control characters.
const (
	XON = 'q' & 0x1F
	CAN = 'X' & 0x1F
)

// Header byte positions. ZP0 is the low-order position byte.
const (
	ZF0 = 3
	ZF1 = 2
	ZF2 = 1
	ZF3 = 0

	ZP0 = 0
	ZP1 = 1
	ZP2 = 2
	ZP3 = 3
)

var frameNames = []string{
	"ZRQINIT", "ZRINIT", "ZSINIT", "ZACK", "ZFILE", "ZSKIP", "ZNAK",
	"ZABORT", "ZFIN", "ZRPOS", "ZDATA", "ZEOF", "ZFERR", "ZCRC",
	"ZCHALLENGE", "ZCOMPL", "ZCAN", "ZFREECNT", "ZCOMMAND", "ZSTDERR",
}

// frameName returns the human-readable name of a frame type for logs.
func frameName(t int) string {
	if t < 0 || t >= len(frameNames) {
		return "UNKNOWN"
	}
	return frameNames[t]
}
