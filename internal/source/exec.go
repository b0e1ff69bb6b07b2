package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ExecSource runs a command and streams its stdout and stderr.
type ExecSource struct {
	command string
	args    []string
	dir     string
	buffer  int
	seq     atomic.Uint64
	exitErr error
}

func NewExecSource(command string, args []string, buffer int) *ExecSource {
	return &ExecSource{
		command: command,
		args:    args,
		buffer:  bufferSize(buffer),
	}
}

// SetDir sets the working directory of the command.
func (s *ExecSource) SetDir(dir string) {
	s.dir = dir
}

func (s *ExecSource) Name() string {
	return fmt.Sprintf("exec:%s", s.command)
}

// ExitErr returns the command's exit error. It is only meaningful after the
// channel returned by Start has been closed.
func (s *ExecSource) ExitErr() error {
	return s.exitErr
}

// Start launches the command. The channel closes once both pipes are drained
// and the command has exited. Cancelling ctx kills the command.
func (s *ExecSource) Start(ctx context.Context) (<-chan Line, error) {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Dir = s.dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	ch := make(chan Line, s.buffer)
	var wg sync.WaitGroup
	wg.Add(2)

	go s.readStream("stdout", stdoutPipe, ch, &wg)
	go s.readStream("stderr", stderrPipe, ch, &wg)

	go func() {
		wg.Wait()
		s.exitErr = cmd.Wait()
		close(ch)
	}()

	return ch, nil
}

// readStream reads until the pipe closes. On cancellation the process is
// killed, which closes the pipe and ends the loop. The pipe is always read
// to the end so the command never blocks on a full pipe.
func (s *ExecSource) readStream(stream string, r io.Reader, ch chan<- Line, wg *sync.WaitGroup) {
	defer wg.Done()

	err := readLines(r, func(text string) bool {
		ch <- Line{
			Seq:    s.seq.Add(1),
			Stream: stream,
			Text:   text,
			Time:   time.Now(),
		}
		return true
	})
	if err != nil {
		slog.Warn("read command output", "stream", stream, "err", err)
		_, _ = io.Copy(io.Discard, r)
	}
}
