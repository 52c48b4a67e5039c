package filebrowser

import (
	"context"
	"io"
	"log"
	"path"
	"time"

	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/logutil"
	"github.com/webterm-io/engine/internal/protocol"
	"github.com/webterm-io/engine/internal/sink"
)

const (
	// uploadChunkSize is one outbound binary frame of file data.
	uploadChunkSize = 5 * 1024 * 1024

	// uploadInterChunkDelay gives the backend room to push back via its
	// upload_progress acknowledgments.
	uploadInterChunkDelay = 20 * time.Millisecond

	// Bounded completion poll after download_end: chunk announcements
	// and their binary frames may still be in flight when the end
	// marker arrives.
	downloadPollInterval = 100 * time.Millisecond
	downloadMaxPolls     = 100
)

// upload is the per-session upload state. At most one is active.
type upload struct {
	active bool
	name   string
	sent   uint64
	total  uint64
	done   chan error
}

// download is the per-session download state.
type download struct {
	active bool
	name   string
	total  uint64
	// received is monotonically non-decreasing and never exceeds total
	// once both are known.
	received uint64
	expected int
	got      int
	// frameDue means the next binary frame belongs to this download.
	frameDue bool
	sink     sink.Sink
	blob     []byte
	blobCb   func([]byte)
	done     chan error
}

// Upload streams a file to remotePath in fixed-size binary chunks and
// blocks until the backend acknowledges completion. A second upload on
// the same session rejects immediately without sending any bytes.
func (s *Session) Upload(ctx context.Context, remotePath string, r io.Reader, totalSize uint64) error {
	if s.Status() != engine.StatusConnected {
		return protocol.ErrSessionClosed
	}

	s.mu.Lock()
	if s.up.active {
		s.mu.Unlock()
		return protocol.ErrUploadInProgress
	}
	if s.dl.active {
		s.mu.Unlock()
		return protocol.ErrTransferInProgress
	}
	done := make(chan error, 1)
	s.up = upload{active: true, name: path.Base(remotePath), total: totalSize, done: done}
	s.upCancel.Store(false)
	s.mu.Unlock()

	start := protocol.FileCommand{
		Type:      protocol.TypeUploadFileStart,
		Path:      remotePath,
		TotalSize: totalSize,
	}
	if err := s.command(start); err != nil {
		s.failUpload(err)
		return err
	}
	s.events.Add("upload", logutil.Sanitize(remotePath))

	endSent := make(chan struct{})
	go s.uploadPump(r, endSent)

	// uploadWait bounds only the sentinel wait after the end marker is
	// on the wire; a slow but still-progressing upload never times out.
	var wait <-chan time.Time
	for {
		select {
		case err := <-done:
			return err
		case <-endSent:
			endSent = nil
			wait = time.After(s.uploadWait)
		case <-wait:
			s.upCancel.Store(true)
			s.failUpload(protocol.ErrTimeout)
			return protocol.ErrTimeout
		case <-ctx.Done():
			s.CancelUpload()
			return ctx.Err()
		case <-s.down:
			return protocol.ErrSessionClosed
		}
	}
}

// CancelUpload requests cooperative cancellation. The pump observes the
// flag before its next chunk, notifies the backend, and stops.
func (s *Session) CancelUpload() {
	if s.IsUploading() {
		s.upCancel.Store(true)
	}
}

// uploadPump sends the file body. It checks the cancel flag before
// every chunk and abandons the half-sent transfer when set. endSent is
// closed once the end marker is on the wire.
func (s *Session) uploadPump(r io.Reader, endSent chan struct{}) {
	buf := make([]byte, uploadChunkSize)
	var sent uint64
	eof := false

	for !eof {
		if s.upCancel.Load() {
			if err := s.command(protocol.FileCommand{Type: protocol.TypeUploadCancel}); err != nil {
				log.Printf("[filebrowser %s] cancel notify failed: %v", s.id, err)
			}
			s.failUpload(protocol.ErrTransferAborted)
			return
		}

		n, err := io.ReadFull(r, buf)
		switch err {
		case nil:
		case io.EOF:
			eof = true
		case io.ErrUnexpectedEOF:
			eof = true
		default:
			s.failUpload(err)
			return
		}
		if n > 0 {
			if err := s.sendBinary(buf[:n]); err != nil {
				s.failUpload(err)
				return
			}
			sent += uint64(n)
			s.mu.Lock()
			s.up.sent = sent
			name, total := s.up.name, s.up.total
			s.mu.Unlock()
			s.emitProgress("upload", name, sent, total)
		}
		if !eof {
			time.Sleep(uploadInterChunkDelay)
		}
	}

	if err := s.command(protocol.FileCommand{Type: protocol.TypeUploadFileEnd}); err != nil {
		s.failUpload(err)
		return
	}
	close(endSent)
	// Completion arrives as the backend's success sentinel.
}

// onUploadSettled handles the backend's completion sentinel.
func (s *Session) onUploadSettled(message string) {
	s.mu.Lock()
	if !s.up.active {
		s.mu.Unlock()
		return
	}
	u := s.up
	s.up = upload{}
	s.mu.Unlock()

	if message == protocol.UploadCancelledMessage {
		u.done <- protocol.ErrTransferAborted
		return
	}
	s.emitProgress("upload", u.name, u.total, u.total)
	u.done <- nil
}

// onUploadProgress relays the backend's byte acknowledgments.
func (s *Session) onUploadProgress(received, total uint64) {
	s.mu.Lock()
	active := s.up.active
	name := s.up.name
	s.mu.Unlock()
	if active {
		s.emitProgress("upload_ack", name, received, total)
	}
}

func (s *Session) failUpload(err error) {
	s.upCancel.Store(true)
	s.mu.Lock()
	if !s.up.active {
		s.mu.Unlock()
		return
	}
	u := s.up
	s.up = upload{}
	s.mu.Unlock()
	u.done <- err
}

// Download fetches remotePath into the session's sink provider and
// blocks until the transfer settles. blobCb, if non-nil, additionally
// receives the whole file in memory on completion. There is no wire
// cancellation for downloads; cancelling ctx stops the wait only.
func (s *Session) Download(ctx context.Context, remotePath string, blobCb func([]byte)) error {
	if s.Status() != engine.StatusConnected {
		return protocol.ErrSessionClosed
	}

	s.mu.Lock()
	if s.dl.active || s.up.active {
		s.mu.Unlock()
		return protocol.ErrTransferInProgress
	}
	done := make(chan error, 1)
	s.dl = download{active: true, name: path.Base(remotePath), blobCb: blobCb, done: done}
	s.mu.Unlock()

	if err := s.command(protocol.FileCommand{Type: protocol.TypeDownloadFile, Path: remotePath}); err != nil {
		s.failDownload(err)
		return err
	}
	s.events.Add("download", logutil.Sanitize(remotePath))

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.down:
		return protocol.ErrSessionClosed
	}
}

func (s *Session) onDownloadStart(totalSize uint64) {
	s.mu.Lock()
	if !s.dl.active {
		s.mu.Unlock()
		log.Printf("[filebrowser %s] stray download_start", s.id)
		return
	}
	name := s.dl.name
	s.mu.Unlock()

	sk, err := s.sinks.Create(name, totalSize)
	if err != nil {
		s.failDownload(err)
		return
	}

	s.mu.Lock()
	s.dl.sink = sk
	s.dl.total = totalSize
	s.mu.Unlock()
}

// onDownloadChunk arms the session: the next binary frame belongs to
// the download.
func (s *Session) onDownloadChunk(size uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dl.active {
		log.Printf("[filebrowser %s] stray download_chunk", s.id)
		return
	}
	s.dl.expected++
	s.dl.frameDue = true
}

func (s *Session) onDownloadData(data []byte) {
	s.mu.Lock()
	if !s.dl.active || !s.dl.frameDue {
		s.mu.Unlock()
		log.Printf("[filebrowser %s] dropping unattributed binary frame (%d bytes)", s.id, len(data))
		return
	}
	s.dl.frameDue = false
	sk := s.dl.sink
	s.mu.Unlock()

	if sk == nil {
		s.failDownload(&protocol.ProtocolError{Reason: "chunk before download_start"})
		return
	}
	if err := sk.Write(data); err != nil {
		s.failDownload(err)
		return
	}

	s.mu.Lock()
	s.dl.got++
	s.dl.received += uint64(len(data))
	if s.dl.total > 0 && s.dl.received > s.dl.total {
		s.dl.received = s.dl.total
	}
	if s.dl.blobCb != nil {
		s.dl.blob = append(s.dl.blob, data...)
	}
	name, rec, total := s.dl.name, s.dl.received, s.dl.total
	s.mu.Unlock()
	s.emitProgress("download", name, rec, total)
}

// onDownloadEnd starts the bounded convergence poll: announcements and
// data frames still in flight must land before the sink closes.
func (s *Session) onDownloadEnd() {
	go func() {
		for i := 0; i < downloadMaxPolls; i++ {
			s.mu.Lock()
			if !s.dl.active {
				s.mu.Unlock()
				return
			}
			converged := s.dl.expected > 0 && s.dl.got >= s.dl.expected
			// A zero-byte file announces no chunks at all; once
			// download_start has landed there is nothing to wait for.
			empty := s.dl.expected == 0 && s.dl.sink != nil && s.dl.total == 0
			converged = converged || empty
			s.mu.Unlock()
			if converged {
				s.finishDownload()
				return
			}
			select {
			case <-time.After(downloadPollInterval):
			case <-s.down:
				return
			}
		}
		log.Printf("[filebrowser %s] download never converged, aborting", s.id)
		s.failDownload(protocol.ErrTransferAborted)
	}()
}

func (s *Session) finishDownload() {
	s.mu.Lock()
	if !s.dl.active {
		s.mu.Unlock()
		return
	}
	d := s.dl
	s.dl = download{}
	s.mu.Unlock()

	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			log.Printf("[filebrowser %s] sink close: %v", s.id, err)
			d.done <- err
			return
		}
	}
	if d.blobCb != nil {
		d.blobCb(d.blob)
	}
	s.emitProgress("download", d.name, d.received, d.total)
	d.done <- nil
}

func (s *Session) failDownload(err error) {
	s.mu.Lock()
	if !s.dl.active {
		s.mu.Unlock()
		return
	}
	d := s.dl
	s.dl = download{}
	s.mu.Unlock()

	if d.sink != nil {
		d.sink.Close()
	}
	d.done <- err
}

func (s *Session) emitProgress(direction, name string, transferred, total uint64) {
	if s.onProgress != nil {
		s.onProgress(Progress{Direction: direction, Name: name, Transferred: transferred, Total: total})
	}
}
