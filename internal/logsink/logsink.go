// Package logsink provides the append-mode run log shared by the whole
// process. Writes are best-effort; a sink opened without a path discards
// everything.
package logsink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink is a serialised writer over the run log.
type Sink struct {
	mu    sync.Mutex
	w     io.Writer
	c     io.Closer
	runID string
}

// Open opens path for appending and stamps the run. An empty path yields
// a sink that discards all writes.
func Open(path string) (*Sink, error) {
	s := &Sink{w: io.Discard, runID: uuid.NewString()}
	if path == "" {
		return s, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	s.w = f
	s.c = f
	s.Printf("run %s started at %s", s.runID, time.Now().Format(time.RFC3339))
	return s, nil
}

// Discard returns a sink that drops everything. Useful in tests.
func Discard() *Sink {
	return &Sink{w: io.Discard, runID: uuid.NewString()}
}

// RunID identifies this process run in the log.
func (s *Sink) RunID() string {
	return s.runID
}

// Printf writes one line to the log.
func (s *Sink) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

// Section writes a titled block, matching the transcript block format.
func (s *Sink) Section(title, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\n----------------------------%s----------------------------\n", title)
	fmt.Fprintln(s.w, body)
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}
