// Package filebrowser implements the SFTP-backed session kind: JSON
// control messages for directory operations plus a chunked binary
// upload/download protocol. Upload and download are serialized per
// session so every inbound binary frame is unambiguously attributable.
package filebrowser

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webterm-io/engine/internal/engine"
	"github.com/webterm-io/engine/internal/logutil"
	"github.com/webterm-io/engine/internal/pending"
	"github.com/webterm-io/engine/internal/protocol"
	"github.com/webterm-io/engine/internal/sink"
	"github.com/webterm-io/engine/internal/transport"
)

// Correlator key prefixes, mirroring the separate pending maps the
// protocol implies: one read and one save may be outstanding for the
// same path simultaneously.
const (
	readKey = "read:"
	saveKey = "save:"
	attrKey = "attr:"
)

// Config assembles a file-browser session's collaborators.
type Config struct {
	ID       string
	ServerID uint

	URL  string
	Dial transport.Dialer

	Correlator *pending.Correlator
	Sinks      sink.Provider

	// RequestTimeout bounds read/save/attr correlation; zero means 30s.
	RequestTimeout time.Duration
	// UploadWait bounds the wait for the backend's upload-completion
	// sentinel; zero means 5m.
	UploadWait time.Duration

	// OnProgress observes upload/download movement.
	OnProgress func(Progress)
	// OnDirList observes listing updates.
	OnDirList func(path string, entries []protocol.FileEntry)
}

// Progress is a transfer movement snapshot.
type Progress struct {
	Direction   string `json:"direction"`
	Name        string `json:"name"`
	Transferred uint64 `json:"transferred"`
	Total       uint64 `json:"total"`
}

// Session is one file-browser connection.
type Session struct {
	id       string
	serverID uint
	url      string
	dial     transport.Dialer

	tracker *engine.Tracker
	events  *engine.EventLog
	corr    *pending.Correlator
	sinks   sink.Provider

	reqTimeout time.Duration
	uploadWait time.Duration
	onProgress func(Progress)
	onDirList  func(string, []protocol.FileEntry)

	mu          sync.Mutex
	tr          transport.Transport
	currentPath string
	entries     []protocol.FileEntry
	saveQueue   []string
	attrQueue   []string

	up       upload
	upCancel atomic.Bool
	dl       download

	down      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Session {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.UploadWait == 0 {
		cfg.UploadWait = 5 * time.Minute
	}
	return &Session{
		id:         cfg.ID,
		serverID:   cfg.ServerID,
		url:        cfg.URL,
		dial:       cfg.Dial,
		tracker:    engine.NewTracker(cfg.ID),
		events:     engine.NewEventLog(),
		corr:       cfg.Correlator,
		sinks:      cfg.Sinks,
		reqTimeout: cfg.RequestTimeout,
		uploadWait: cfg.UploadWait,
		onProgress: cfg.OnProgress,
		onDirList:  cfg.OnDirList,
		down:       make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) ServerID() uint        { return s.serverID }
func (s *Session) Kind() engine.Kind     { return engine.KindFileBrowser }
func (s *Session) Status() engine.Status { return s.tracker.Status() }

func (s *Session) History() []engine.Transition { return s.tracker.History() }
func (s *Session) Events(n int) []engine.Event  { return s.events.Recent(n) }

// CurrentPath returns the most recently listed directory.
func (s *Session) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

// Entries returns the current directory listing.
func (s *Session) Entries() []protocol.FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.FileEntry(nil), s.entries...)
}

// IsUploading reports whether an upload is in flight.
func (s *Session) IsUploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up.active
}

// IsDownloading reports whether a download is in flight.
func (s *Session) IsDownloading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dl.active
}

// Connect opens the transport and announces the target server.
func (s *Session) Connect(ctx context.Context) error {
	tr, err := s.dial(ctx, s.url, s)
	if err != nil {
		s.teardown("connect failed")
		return &protocol.TransportError{Op: "connect", Err: err}
	}
	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()

	frame, err := protocol.Encode(protocol.ConnectParams{ServerID: s.serverID})
	if err != nil {
		s.teardown("encode connect params")
		return err
	}
	if err := tr.SendText(ctx, frame); err != nil {
		s.teardown("send connect params")
		return &protocol.TransportError{Op: "send connect params", Err: err}
	}
	s.events.Add("connecting", "")
	return nil
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.teardown("disconnect requested")
}

// ListDir requests a directory listing. Fire-and-forget; the result
// arrives as the next dir_list event.
func (s *Session) ListDir(path string) error {
	return s.command(protocol.FileCommand{Type: protocol.TypeListDir, Path: path})
}

// DeleteFile removes a file. Result observed via success/error.
func (s *Session) DeleteFile(path string) error {
	return s.command(protocol.FileCommand{Type: protocol.TypeDeleteFile, Path: path})
}

// DeleteDir removes a directory recursively.
func (s *Session) DeleteDir(path string) error {
	return s.command(protocol.FileCommand{Type: protocol.TypeDeleteDir, Path: path})
}

// CreateDir makes a directory.
func (s *Session) CreateDir(path string) error {
	return s.command(protocol.FileCommand{Type: protocol.TypeCreateDir, Path: path})
}

// Rename moves a file or directory.
func (s *Session) Rename(oldPath, newPath string) error {
	return s.command(protocol.FileCommand{Type: protocol.TypeRename, OldPath: oldPath, NewPath: newPath})
}

// SetPermissions changes a path's mode bits.
func (s *Session) SetPermissions(path string, mode uint32) error {
	return s.command(protocol.FileCommand{Type: protocol.TypeSetPermissions, Path: path, Mode: mode})
}

// GetAttr fetches a path's attributes, correlated to this call.
func (s *Session) GetAttr(ctx context.Context, path string) (protocol.FileAttr, error) {
	req, err := s.corr.WaitFor(s.id, attrKey+path, s.reqTimeout)
	if err != nil {
		return protocol.FileAttr{}, err
	}

	s.mu.Lock()
	s.attrQueue = append(s.attrQueue, path)
	s.mu.Unlock()

	if err := s.command(protocol.FileCommand{Type: protocol.TypeGetAttr, Path: path}); err != nil {
		s.corr.Reject(s.id, attrKey+path, err)
		s.dropQueued(&s.attrQueue, path)
		return protocol.FileAttr{}, err
	}
	v, err := req.Wait(ctx)
	if err != nil {
		return protocol.FileAttr{}, err
	}
	return v.(protocol.FileAttr), nil
}

// ReadFile fetches a file's text content. A second call for the same
// path while one is outstanding fails with ErrDuplicateRequest.
func (s *Session) ReadFile(ctx context.Context, path string) (string, error) {
	req, err := s.corr.WaitFor(s.id, readKey+path, s.reqTimeout)
	if err != nil {
		return "", err
	}
	if err := s.command(protocol.FileCommand{Type: protocol.TypeReadFile, Path: path}); err != nil {
		s.corr.Reject(s.id, readKey+path, err)
		return "", err
	}
	v, err := req.Wait(ctx)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SaveFile writes text content to a file and waits for the backend's
// acknowledgment.
func (s *Session) SaveFile(ctx context.Context, path, content string) error {
	req, err := s.corr.WaitFor(s.id, saveKey+path, s.reqTimeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.saveQueue = append(s.saveQueue, path)
	s.mu.Unlock()

	if err := s.command(protocol.FileCommand{Type: protocol.TypeSaveFile, Path: path, Content: content}); err != nil {
		s.corr.Reject(s.id, saveKey+path, err)
		s.dropQueued(&s.saveQueue, path)
		return err
	}
	_, err = req.Wait(ctx)
	return err
}

// OnText dispatches an inbound control message.
func (s *Session) OnText(data []byte) {
	msg, ok := protocol.Decode(data)
	if !ok {
		log.Printf("[filebrowser %s] dropping non-protocol text frame", s.id)
		return
	}

	switch msg.Type {
	case protocol.TypeConnected:
		s.tracker.Set(engine.StatusConnected, "backend acknowledged")
		s.events.Add("connected", "")

	case protocol.TypeDirList:
		s.mu.Lock()
		s.currentPath = msg.Path
		s.entries = msg.Entries
		cb := s.onDirList
		s.mu.Unlock()
		if cb != nil {
			cb(msg.Path, msg.Entries)
		}

	case protocol.TypeFileAttr:
		// The reply does not echo the path; replies arrive in request
		// order, so the oldest queued path is the one answered.
		s.mu.Lock()
		var attrPath string
		if len(s.attrQueue) > 0 {
			attrPath = s.attrQueue[0]
			s.attrQueue = s.attrQueue[1:]
		}
		s.mu.Unlock()
		if msg.Attr != nil && attrPath != "" {
			s.corr.Resolve(s.id, attrKey+attrPath, *msg.Attr)
		}

	case protocol.TypeFileContent:
		s.corr.Resolve(s.id, readKey+msg.Path, msg.Content)

	case protocol.TypeSuccess:
		s.onSuccess(msg.Message)

	case protocol.TypeError:
		s.onError(msg.Message)

	case protocol.TypeDownloadStart:
		s.onDownloadStart(msg.TotalSize)

	case protocol.TypeDownloadChunk:
		s.onDownloadChunk(msg.Size)

	case protocol.TypeDownloadEnd:
		s.onDownloadEnd()

	case protocol.TypeUploadProg:
		s.onUploadProgress(msg.Received, msg.Total)

	case protocol.TypeClosed:
		s.teardown("closed by backend")

	default:
		log.Printf("[filebrowser %s] dropping unexpected %q message", s.id, msg.Type)
	}
}

// OnBinary attributes an inbound binary frame to the active download.
func (s *Session) OnBinary(data []byte) {
	s.onDownloadData(data)
}

// OnClose finishes the session on transport closure.
func (s *Session) OnClose(err error) {
	if err != nil {
		log.Printf("[filebrowser %s] transport failed: %v", s.id, err)
		s.teardown("transport error")
		return
	}
	s.teardown("transport closed")
}

// onSuccess routes a success message: upload sentinels first, then the
// oldest outstanding save, then plain mutation acknowledgments. Every
// mutating success refreshes the listing, since the protocol pushes no
// deltas.
func (s *Session) onSuccess(message string) {
	if message == protocol.UploadDoneMessage || message == protocol.UploadCancelledMessage {
		s.onUploadSettled(message)
		s.relist()
		return
	}

	s.mu.Lock()
	var saved string
	if len(s.saveQueue) > 0 {
		saved = s.saveQueue[0]
		s.saveQueue = s.saveQueue[1:]
	}
	s.mu.Unlock()
	if saved != "" {
		s.corr.Resolve(s.id, saveKey+saved, message)
		return
	}

	s.events.Add("success", logutil.Sanitize(message))
	s.relist()
}

// onError resets in-flight transfer state and surfaces the message;
// the session itself stays connected.
func (s *Session) onError(message string) {
	s.events.Add("error", logutil.Sanitize(message))
	log.Printf("[filebrowser %s] backend error: %s", s.id, logutil.Sanitize(message))

	berr := &protocol.BackendError{Message: message}
	s.failUpload(berr)
	s.failDownload(berr)

	// The error does not say which request failed; reject the oldest
	// outstanding save and attr so later replies cannot be matched to
	// a request the backend already answered with this error.
	s.mu.Lock()
	var saved, attred string
	if len(s.saveQueue) > 0 {
		saved = s.saveQueue[0]
		s.saveQueue = s.saveQueue[1:]
	}
	if len(s.attrQueue) > 0 {
		attred = s.attrQueue[0]
		s.attrQueue = s.attrQueue[1:]
	}
	s.mu.Unlock()
	if saved != "" {
		s.corr.Reject(s.id, saveKey+saved, berr)
	}
	if attred != "" {
		s.corr.Reject(s.id, attrKey+attred, berr)
	}
}

// relist refreshes the current directory after a mutation.
func (s *Session) relist() {
	s.mu.Lock()
	path := s.currentPath
	s.mu.Unlock()
	if path == "" {
		return
	}
	if err := s.ListDir(path); err != nil {
		log.Printf("[filebrowser %s] re-list failed: %v", s.id, err)
	}
}

func (s *Session) dropQueued(q *[]string, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range *q {
		if p == path {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return
		}
	}
}

func (s *Session) command(cmd protocol.FileCommand) error {
	if s.Status() != engine.StatusConnected {
		return protocol.ErrSessionClosed
	}
	frame, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return s.sendText(frame)
}

func (s *Session) sendText(frame []byte) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return protocol.ErrSessionClosed
	}
	if err := tr.SendText(context.Background(), frame); err != nil {
		return &protocol.TransportError{Op: "send text", Err: err}
	}
	return nil
}

func (s *Session) sendBinary(frame []byte) error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return protocol.ErrSessionClosed
	}
	if err := tr.SendBinary(context.Background(), frame); err != nil {
		return &protocol.TransportError{Op: "send binary", Err: err}
	}
	return nil
}

// teardown releases everything the session owns: transfer state,
// pending requests, the transport. The transport is closed after the
// Once completes: Close may report OnClose from the caller's goroutine,
// which lands back here.
func (s *Session) teardown(reason string) {
	var tr transport.Transport
	s.closeOnce.Do(func() {
		s.tracker.Set(engine.StatusDisconnected, reason)
		s.events.Add("disconnected", reason)
		close(s.down)

		s.failUpload(protocol.ErrSessionClosed)
		s.failDownload(protocol.ErrSessionClosed)
		s.corr.RejectAll(s.id, protocol.ErrSessionClosed)

		s.mu.Lock()
		tr = s.tr
		s.tr = nil
		s.saveQueue = nil
		s.attrQueue = nil
		s.mu.Unlock()
	})
	if tr != nil {
		tr.Close()
	}
}
