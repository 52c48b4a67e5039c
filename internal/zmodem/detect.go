package zmodem

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction of a transfer, from the local side's point of view.
type Direction int

const (
	// Receive means the remote runs sz and we accept files.
	Receive Direction = iota
	// Send means the remote runs rz and we supply files.
	Send
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// The first hex header each remote program emits identifies it: sz
// opens with ZRQINIT (type 00), rz with ZRINIT (type 01).
var (
	sigReceive = []byte{ZPAD, ZPAD, ZDLE, ZHEX, '0', '0'}
	sigSend    = []byte{ZPAD, ZPAD, ZDLE, ZHEX, '0', '1'}
)

// sigLen is the length of both signatures.
const sigLen = 6

// detector scans terminal output for a transfer-opening signature. A
// short tail is retained between frames so a signature split across
// two reads is still found.
type detector struct {
	tail []byte
}

// scan looks for a signature in tail+frame. On a hit it returns the
// direction and the offset within frame where the signature begins
// (negative when the signature started in the retained tail).
func (d *detector) scan(frame []byte) (Direction, int, bool) {
	joined := frame
	tailLen := 0
	if len(d.tail) > 0 {
		tailLen = len(d.tail)
		joined = append(append([]byte(nil), d.tail...), frame...)
	}

	if i := bytes.Index(joined, sigReceive); i >= 0 {
		d.tail = nil
		return Receive, i - tailLen, true
	}
	if i := bytes.Index(joined, sigSend); i >= 0 {
		d.tail = nil
		return Send, i - tailLen, true
	}

	keep := sigLen - 1
	if len(joined) < keep {
		keep = len(joined)
	}
	d.tail = append(d.tail[:0], joined[len(joined)-keep:]...)
	return 0, 0, false
}

func (d *detector) reset() { d.tail = nil }

// FileInfo is the metadata carried by a ZFILE subpacket.
type FileInfo struct {
	Name    string
	Size    uint64
	ModTime time.Time
}

// parseFileInfo decodes a ZFILE data subpacket: NUL-terminated name,
// then "size mtime mode serial" with the size decimal and the rest
// octal. Everything past the size is optional.
func parseFileInfo(data []byte) (FileInfo, error) {
	nul := bytes.IndexByte(data, 0)
	if nul <= 0 {
		return FileInfo{}, fmt.Errorf("malformed file header")
	}
	fi := FileInfo{Name: string(data[:nul])}

	rest := string(bytes.TrimRight(data[nul+1:], "\x00"))
	fields := strings.Fields(rest)
	if len(fields) > 0 {
		size, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return FileInfo{}, fmt.Errorf("bad file size %q", fields[0])
		}
		fi.Size = size
	}
	if len(fields) > 1 {
		if mt, err := strconv.ParseInt(fields[1], 8, 64); err == nil && mt > 0 {
			fi.ModTime = time.Unix(mt, 0)
		}
	}
	return fi, nil
}

// encodeFileInfo builds the ZFILE subpacket payload for an offer.
func encodeFileInfo(fi FileInfo) []byte {
	mtime := int64(0)
	if !fi.ModTime.IsZero() {
		mtime = fi.ModTime.Unix()
	}
	return []byte(fmt.Sprintf("%s\x00%d %o 100644 0 1 %d\x00", fi.Name, fi.Size, mtime, fi.Size))
}
