package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// FileSource reads lines from a file, optionally following new writes.
type FileSource struct {
	path     string
	follow   bool
	interval time.Duration
	buffer   int
	seq      atomic.Uint64
}

// NewFileSource creates a file source. When follow is true the file is polled
// every interval for appended data until ctx is cancelled.
func NewFileSource(path string, follow bool, interval time.Duration, buffer int) *FileSource {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &FileSource{
		path:     path,
		follow:   follow,
		interval: interval,
		buffer:   bufferSize(buffer),
	}
}

func (s *FileSource) Name() string {
	return fmt.Sprintf("file:%s", s.path)
}

func (s *FileSource) Start(ctx context.Context) (<-chan Line, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", s.path, err)
	}

	ch := make(chan Line, s.buffer)

	go func() {
		defer close(ch)
		defer f.Close()

		if !s.follow {
			err := readLines(f, func(text string) bool {
				if ctx.Err() != nil {
					return false
				}
				ch <- s.line(text)
				return true
			})
			if err != nil {
				slog.Warn("read file", "path", s.path, "err", err)
			}
			return
		}
		s.tail(ctx, f, ch)
	}()

	return ch, nil
}

// tail keeps a partial trailing line until its newline arrives, so a line
// written in two chunks is still delivered once.
func (s *FileSource) tail(ctx context.Context, f *os.File, ch chan<- Line) {
	reader := bufio.NewReaderSize(f, 64*1024)
	var partial strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			ch <- s.line(strings.TrimSuffix(partial.String(), "\n"))
			partial.Reset()
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err != io.EOF {
			return
		}

		select {
		case <-ctx.Done():
			if partial.Len() > 0 {
				ch <- s.line(partial.String())
			}
			return
		case <-time.After(s.interval):
		}
	}
}

func (s *FileSource) line(text string) Line {
	return Line{
		Seq:    s.seq.Add(1),
		Stream: "file",
		Text:   text,
		Time:   time.Now(),
	}
}
