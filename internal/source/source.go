// Package source produces raw log lines for a classification session.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

const defaultBufferSize = 256

// maxLineBytes caps a single delivered line. It is a variable for tests.
var maxLineBytes = 1024 * 1024

// Line is one raw line read from a source.
type Line struct {
	Seq    uint64
	Stream string // stdout, stderr, file, reader
	Text   string
	Time   time.Time
}

// Source emits lines on a channel. Implementations must close the returned
// channel when the input is exhausted or ctx is cancelled. Lines already sent
// stay in the channel so the consumer can drain them.
type Source interface {
	Start(ctx context.Context) (<-chan Line, error)
	Name() string
}

// readLines calls emit for every line of r until EOF, a read error, or emit
// returning false. Lines longer than maxLineBytes are delivered in
// maxLineBytes pieces rather than ending the read.
func readLines(r io.Reader, emit func(text string) bool) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		complete := err == nil
		if complete {
			chunk = dropEOL(chunk)
		}
		line = append(line, chunk...)
		for len(line) > maxLineBytes {
			if !emit(string(line[:maxLineBytes])) {
				return nil
			}
			line = append(line[:0], line[maxLineBytes:]...)
		}

		switch {
		case complete:
			if !emit(string(line)) {
				return nil
			}
			line = line[:0]
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			if len(line) > 0 && !emit(string(line)) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func dropEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

func bufferSize(n int) int {
	if n <= 0 {
		return defaultBufferSize
	}
	return n
}
