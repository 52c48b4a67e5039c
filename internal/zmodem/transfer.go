package zmodem

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webterm-io/engine/internal/protocol"
	"github.com/webterm-io/engine/internal/sink"
)

// State of a transfer.
type State int32

const (
	StateActive State = iota
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// progressInterval throttles progress callbacks so a fast transfer does
// not flood the consumer.
const progressInterval = 300 * time.Millisecond

// Progress is a snapshot of one file's movement.
type Progress struct {
	Direction   Direction
	Name        string
	Transferred uint64
	Total       uint64
	// Rate is the instantaneous throughput in bytes per second, zero
	// when not yet measurable.
	Rate uint64
}

// FileOffer is one file the local side proposes to send.
type FileOffer struct {
	Info FileInfo
	Data io.Reader
}

// Options configures a transfer created from a Detection.
type Options struct {
	// Sinks receives incoming files. Required for Receive transfers.
	Sinks sink.Provider

	// Files are the outgoing offers. Required for Send transfers.
	Files []FileOffer

	// Output writes bytes toward the remote program.
	Output func([]byte) error

	// OnProgress, if set, is invoked at most every progressInterval per
	// file, plus once when a file completes.
	OnProgress func(Progress)

	// OnBlob, if set, additionally collects each received file fully in
	// memory and hands it over on completion.
	OnBlob func(name string, data []byte)
}

// session is the direction-specific state machine behind a Transfer.
type session interface {
	start(t *Transfer) error
	onEvent(ev event) error
}

// Transfer is one in-flight exchange. It owns the channel from
// confirmation until it settles; all inbound bytes are routed to push.
type Transfer struct {
	dir   Direction
	opts  Options
	sess  session
	state atomic.Int32

	mu     sync.Mutex
	parser parser

	done    chan struct{}
	doneErr error
	once    sync.Once

	lastProgress time.Time
	lastBytes    uint64
	lastAt       time.Time
}

func newTransfer(dir Direction, opts Options) (*Transfer, error) {
	t := &Transfer{dir: dir, opts: opts, done: make(chan struct{})}
	if dir == Receive {
		if opts.Sinks == nil {
			opts.Sinks = sink.NewMemoryProvider()
			t.opts.Sinks = opts.Sinks
		}
		t.sess = &receiveSession{}
	} else {
		t.sess = &sendSession{}
	}
	if err := t.sess.start(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Direction reports which way the files flow.
func (t *Transfer) Direction() Direction { return t.dir }

// State reports the transfer's current state.
func (t *Transfer) State() State { return State(t.state.Load()) }

// Done is closed when the transfer settles in any terminal state.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Err returns the settlement error, nil on success or cancel.
func (t *Transfer) Err() error {
	select {
	case <-t.done:
		return t.doneErr
	default:
		return nil
	}
}

// Cancel aborts the transfer. It sends the CAN burst so the remote
// program exits and the terminal comes back.
func (t *Transfer) Cancel() {
	if !t.state.CompareAndSwap(int32(StateActive), int32(StateCancelled)) {
		return
	}
	if err := t.opts.Output(abortSequence()); err != nil {
		log.Printf("[zmodem] abort write failed: %v", err)
	}
	t.settle(StateCancelled, nil)
}

// cancelled reports whether a cancel has been requested. The send pump
// polls it between chunks.
func (t *Transfer) cancelled() bool {
	return t.State() == StateCancelled
}

// push routes one inbound chunk of channel bytes into the protocol
// state machine. An error means the transfer failed and the caller
// should fall back to rendering bytes as terminal output.
func (t *Transfer) push(frame []byte) error {
	if t.State() != StateActive {
		return protocol.ErrTransferAborted
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.parser.feed(frame)
	for {
		ev, ok, err := t.parser.next()
		if err != nil {
			t.fail(err)
			return err
		}
		if !ok {
			return nil
		}
		if ev.kind == evAbort {
			t.settle(StateCancelled, nil)
			return protocol.ErrTransferAborted
		}
		if err := t.sess.onEvent(ev); err != nil {
			t.fail(err)
			return err
		}
		if t.State() != StateActive {
			return nil
		}
	}
}

func (t *Transfer) send(data []byte) error {
	return t.opts.Output(data)
}

func (t *Transfer) complete() {
	t.state.CompareAndSwap(int32(StateActive), int32(StateCompleted))
	t.settle(StateCompleted, nil)
}

func (t *Transfer) fail(err error) {
	t.state.CompareAndSwap(int32(StateActive), int32(StateFailed))
	t.settle(StateFailed, err)
}

func (t *Transfer) settle(s State, err error) {
	t.once.Do(func() {
		t.state.Store(int32(s))
		t.doneErr = err
		close(t.done)
	})
}

// progress reports movement on the current file, throttled. final
// forces the callback so 100% is always delivered.
func (t *Transfer) progress(name string, transferred, total uint64, final bool) {
	if t.opts.OnProgress == nil {
		return
	}
	now := time.Now()
	if !final && now.Sub(t.lastProgress) < progressInterval {
		return
	}

	var rate uint64
	if !t.lastAt.IsZero() && transferred > t.lastBytes {
		if dt := now.Sub(t.lastAt).Seconds(); dt > 0 {
			rate = uint64(float64(transferred-t.lastBytes) / dt)
		}
	}
	t.lastProgress = now
	t.lastAt = now
	t.lastBytes = transferred

	t.opts.OnProgress(Progress{
		Direction:   t.dir,
		Name:        name,
		Transferred: transferred,
		Total:       total,
		Rate:        rate,
	})
}
