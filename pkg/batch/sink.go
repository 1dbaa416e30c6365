package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Sink writes JSON lines. Writes from concurrent workers are serialized so
// every line is written whole.
type Sink struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	enc     *json.Encoder
	closers []io.Closer
	err     error
}

func NewSink(w io.Writer) *Sink {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Sink{buf: buf, enc: enc}
}

// CreateSink opens path for writing. "-" writes to stdout and a .gz suffix
// compresses the output.
func CreateSink(path string) (*Sink, error) {
	if path == "-" {
		return NewSink(os.Stdout), nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(f)
		s := NewSink(zw)
		s.closers = []io.Closer{zw, f}
		return s, nil
	}
	s := NewSink(f)
	s.closers = []io.Closer{f}
	return s, nil
}

// Write encodes v as one line and flushes it. After the first failure every
// write returns that error.
func (s *Sink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if err := s.enc.Encode(v); err != nil {
		s.err = fmt.Errorf("failed to write record: %w", err)
		return s.err
	}
	if err := s.buf.Flush(); err != nil {
		s.err = fmt.Errorf("failed to flush record: %w", err)
		return s.err
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.buf.Flush()
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.closers = nil
	return err
}
