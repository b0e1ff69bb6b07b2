package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/buildscope/buildscope/internal/engine"
)

// EventRecord is the JSON Lines form of an event.
type EventRecord struct {
	Timestamp time.Time `json:"ts"`
	Session   string    `json:"session,omitempty"`
	Severity  string    `json:"severity"`
	Header    string    `json:"header"`
	Message   string    `json:"message"`
	Context   []string  `json:"context,omitempty"`
}

// JSONSink writes events as JSON Lines (one object per line).
type JSONSink struct {
	enc     *json.Encoder
	session string
	now     func() time.Time
}

func NewJSONSink(w io.Writer, session string) *JSONSink {
	if w == nil {
		w = os.Stdout
	}
	return &JSONSink{enc: json.NewEncoder(w), session: session, now: time.Now}
}

func (s *JSONSink) Write(e engine.Event) error {
	return s.enc.Encode(EventRecord{
		Timestamp: s.now(),
		Session:   s.session,
		Severity:  string(e.Severity),
		Header:    e.Header,
		Message:   e.Message,
		Context:   e.Context,
	})
}

func (s *JSONSink) Flush() error { return nil }

func (s *JSONSink) Close() error { return nil }

func (s *JSONSink) Name() string { return "json" }

// FileSink appends events to a file.
type FileSink struct {
	inner Sink
	file  *os.File
}

// NewFileSink opens path for appending. format selects "json" or "text".
func NewFileSink(path, format, session string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}

	var inner Sink
	switch format {
	case "json":
		inner = NewJSONSink(f, session)
	default:
		inner = NewTerminalSink(f, false, true)
	}

	return &FileSink{inner: inner, file: f}, nil
}

func (s *FileSink) Write(e engine.Event) error {
	return s.inner.Write(e)
}

func (s *FileSink) Flush() error {
	return s.file.Sync()
}

func (s *FileSink) Close() error {
	if err := s.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *FileSink) Name() string {
	return "file:" + s.file.Name()
}
