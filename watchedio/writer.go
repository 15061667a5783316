// Package watchedio provides a writer that reports every write to a callback
// and a follower that reports text appended to a file.
package watchedio

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Func receives the text of each write.
type Func func(text string)

// Writer forwards writes to an optional underlying writer and then to a
// callback. Text handed on is valid UTF-8: invalid bytes are dropped and a
// rune split across two writes is delivered whole with the second one.
type Writer struct {
	mu        sync.Mutex
	dst       io.Writer
	fn        Func
	name      string
	log       *zap.SugaredLogger
	carry     utf8Carry
	lastWrite time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger logs underlying write failures to l.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Writer) { w.log = l }
}

// WithName names the writer in log messages.
func WithName(name string) Option {
	return func(w *Writer) { w.name = name }
}

// New returns a Writer over dst, which may be nil.
func New(dst io.Writer, fn Func, opts ...Option) *Writer {
	w := &Writer{dst: dst, fn: fn, name: "watched writer", log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write never fails: an error from the underlying writer is logged and the
// callback still runs.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastWrite = time.Now()
	text := w.carry.decode(p)
	if text == "" {
		return len(p), nil
	}
	if w.dst != nil {
		if _, err := io.WriteString(w.dst, text); err != nil {
			w.log.Errorf("Failed to write to %s: %v", w.name, err)
		}
	}
	if w.fn != nil {
		w.fn(text)
	}
	return len(p), nil
}

// LastWrite is the time of the most recent write.
func (w *Writer) LastWrite() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastWrite
}

// Close closes the underlying writer when it is an io.Closer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Open creates or truncates path and returns a Writer over it.
func Open(path string, fn Func, opts ...Option) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open watched file %s: %w", path, err)
	}
	return New(f, fn, append([]Option{WithName(path)}, opts...)...), nil
}

// utf8Carry holds an incomplete trailing rune between chunks.
type utf8Carry struct {
	pending []byte
}

func (c *utf8Carry) decode(p []byte) string {
	buf := p
	if len(c.pending) > 0 {
		buf = append(c.pending, p...)
		c.pending = nil
	}
	cut := len(buf)
	// Look back at most UTFMax-1 bytes for the start of a partial rune.
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax+1; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if !utf8.FullRune(buf[i:]) {
			cut = i
		}
		break
	}
	if cut < len(buf) {
		c.pending = append([]byte(nil), buf[cut:]...)
	}
	return strings.ToValidUTF8(string(buf[:cut]), "")
}
