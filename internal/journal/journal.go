// Package journal persists final transcripts as JSON Lines. Writes happen on
// a single background worker fed by a bounded queue, so recording never
// blocks a streaming session.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liuscraft/orion-stt/internal/logging"
)

const defaultQueueSize = 256

// correctTimeout bounds one correction request.
const correctTimeout = 10 * time.Second

var ErrClosed = errors.New("journal: closed")

// Entry is one finalized utterance.
type Entry struct {
	ConnID    string    `json:"conn_id"`
	Lang      string    `json:"lang"`
	Remote    string    `json:"remote,omitempty"`
	Text      string    `json:"text"`
	Corrected string    `json:"corrected,omitempty"`
	At        time.Time `json:"at"`
}

// Corrector rewrites a transcript, for example fixing punctuation. It runs
// on the journal worker, never on the streaming path.
type Corrector interface {
	Correct(ctx context.Context, lang, text string) (string, error)
}

type Options struct {
	// QueueSize bounds pending entries; defaults to 256.
	QueueSize int
	Corrector Corrector
	// OnDrop is called for every entry dropped because the queue was full.
	OnDrop func()
}

type Journal struct {
	w         io.Writer
	closer    io.Closer
	enc       *json.Encoder
	corrector Corrector
	onDrop    func()

	mu      sync.RWMutex
	closed  bool
	entries chan Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Open appends to the file at path, creating parent directories.
func Open(path string, opts Options) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := New(f, opts)
	j.closer = f
	return j, nil
}

// New starts a journal writing to w.
func New(w io.Writer, opts Options) *Journal {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		w:         w,
		enc:       json.NewEncoder(w),
		corrector: opts.Corrector,
		onDrop:    opts.OnDrop,
		entries:   make(chan Entry, size),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go j.run()
	return j
}

// Record queues e without blocking. It returns false when the entry was
// dropped.
func (j *Journal) Record(e Entry) bool {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false
	}
	select {
	case j.entries <- e:
		return true
	default:
		logging.Warnf("Journal: queue full, dropping transcript for %s", e.ConnID)
		if j.onDrop != nil {
			j.onDrop()
		}
		return false
	}
}

// Close stops accepting entries, waits for queued ones to be written until
// ctx is done, then closes the underlying file.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.closed = true
	close(j.entries)
	j.mu.Unlock()

	var err error
	select {
	case <-j.done:
	case <-ctx.Done():
		j.cancel()
		<-j.done
		err = ctx.Err()
	}
	j.cancel()

	if j.closer != nil {
		if cerr := j.closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.entries {
		if j.ctx.Err() != nil {
			continue
		}
		j.write(e)
	}
}

func (j *Journal) write(e Entry) {
	if j.corrector != nil && e.Corrected == "" {
		ctx, cancel := context.WithTimeout(j.ctx, correctTimeout)
		corrected, err := j.corrector.Correct(ctx, e.Lang, e.Text)
		cancel()
		if err != nil {
			logging.Warnf("Journal: correction failed for %s: %v", e.ConnID, err)
		} else if corrected != e.Text {
			e.Corrected = corrected
		}
	}
	if err := j.enc.Encode(e); err != nil {
		logging.Errorf("Journal: write failed: %v", err)
	}
}
