package zmodem

import (
	"testing"
	"time"
)

func TestDetectorFindsSignatureMidFrame(t *testing.T) {
	var d detector
	frame := append([]byte("login banner\r\n"), hexHeader(ZRQINIT, stohdr(0))...)

	dir, idx, found := d.scan(frame)
	if !found {
		t.Fatal("signature not found")
	}
	if dir != Receive {
		t.Errorf("dir = %s, want receive", dir)
	}
	if idx != len("login banner\r\n") {
		t.Errorf("idx = %d, want %d", idx, len("login banner\r\n"))
	}
}

func TestDetectorSendSignature(t *testing.T) {
	var d detector
	dir, idx, found := d.scan(hexHeader(ZRINIT, stohdr(0)))
	if !found || dir != Send || idx != 0 {
		t.Errorf("scan = (%s, %d, %v), want (send, 0, true)", dir, idx, found)
	}
}

func TestDetectorSignatureSplitAcrossFrames(t *testing.T) {
	var d detector
	header := hexHeader(ZRQINIT, stohdr(0))

	if _, _, found := d.scan(append([]byte("abc"), header[:3]...)); found {
		t.Fatal("premature hit on partial signature")
	}
	dir, idx, found := d.scan(header[3:])
	if !found || dir != Receive {
		t.Fatalf("scan = (%s, %d, %v), want receive hit", dir, idx, found)
	}
	if idx != -3 {
		t.Errorf("idx = %d, want -3", idx)
	}
}

func TestDetectorNoFalsePositive(t *testing.T) {
	var d detector
	for _, frame := range [][]byte{
		[]byte("** plain asterisks **"),
		{ZPAD, ZPAD, ZDLE, ZHEX, '0', '9'}, // unknown frame type
		[]byte("binary \x18 noise"),
	} {
		if _, _, found := d.scan(frame); found {
			t.Errorf("false positive on %q", frame)
		}
	}
}

func TestDetectorResetDropsTail(t *testing.T) {
	var d detector
	header := hexHeader(ZRQINIT, stohdr(0))
	d.scan(header[:3])
	d.reset()
	if _, _, found := d.scan(header[3:]); found {
		t.Error("hit across a reset")
	}
}

func TestParseFileInfo(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    FileInfo
		wantErr bool
	}{
		{
			name:    "full",
			payload: "report.txt\x001024 17 100644 0\x00",
			want:    FileInfo{Name: "report.txt", Size: 1024, ModTime: time.Unix(15, 0)},
		},
		{
			name:    "name and size only",
			payload: "a.bin\x00512\x00",
			want:    FileInfo{Name: "a.bin", Size: 512},
		},
		{
			name:    "name only",
			payload: "bare\x00",
			want:    FileInfo{Name: "bare"},
		},
		{
			name:    "missing name",
			payload: "\x00100",
			wantErr: true,
		},
		{
			name:    "bad size",
			payload: "x\x00notanumber\x00",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fi, err := parseFileInfo([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFileInfo: %v", err)
			}
			if fi.Name != tc.want.Name || fi.Size != tc.want.Size || !fi.ModTime.Equal(tc.want.ModTime) {
				t.Errorf("got %+v, want %+v", fi, tc.want)
			}
		})
	}
}

func TestEncodeFileInfoRoundTrip(t *testing.T) {
	in := FileInfo{Name: "data.tar.gz", Size: 987654, ModTime: time.Unix(1700000000, 0)}
	fi, err := parseFileInfo(encodeFileInfo(in))
	if err != nil {
		t.Fatalf("parseFileInfo: %v", err)
	}
	if fi.Name != in.Name || fi.Size != in.Size || !fi.ModTime.Equal(in.ModTime) {
		t.Errorf("got %+v, want %+v", fi, in)
	}
}
