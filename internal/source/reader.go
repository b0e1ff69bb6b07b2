package source

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReaderSource reads lines from any io.Reader, such as stdin.
type ReaderSource struct {
	name   string
	r      io.Reader
	buffer int
	seq    atomic.Uint64
}

func NewReaderSource(name string, r io.Reader, buffer int) *ReaderSource {
	return &ReaderSource{name: name, r: r, buffer: bufferSize(buffer)}
}

func (s *ReaderSource) Name() string {
	return s.name
}

func (s *ReaderSource) Start(ctx context.Context) (<-chan Line, error) {
	ch := make(chan Line, s.buffer)

	go func() {
		defer close(ch)

		err := readLines(s.r, func(text string) bool {
			if ctx.Err() != nil {
				return false
			}
			ch <- Line{
				Seq:    s.seq.Add(1),
				Stream: "reader",
				Text:   text,
				Time:   time.Now(),
			}
			return true
		})
		if err != nil {
			slog.Warn("read input", "source", s.name, "err", err)
		}
	}()

	return ch, nil
}
