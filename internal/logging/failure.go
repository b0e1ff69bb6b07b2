package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/buildscope/buildscope/internal/engine"
)

const maxContextLine = 512

// FailureRecord is written as a single JSON object per unfinished rule.
type FailureRecord struct {
	Timestamp    time.Time `json:"ts"`
	Session      string    `json:"session"`
	Kind         string    `json:"kind"`
	Phase        string    `json:"phase"`
	Rule         string    `json:"rule"`
	ContextLines []string  `json:"context_lines"`
}

// FailureLog appends unfinished-rule reports to a JSON Lines file. It
// implements engine.Reporter.
type FailureLog struct {
	mu     sync.Mutex
	w      io.Writer
	now    func() time.Time
	logger *slog.Logger
}

func NewFailureLog(w io.Writer) *FailureLog {
	return &FailureLog{w: w, now: time.Now, logger: slog.Default()}
}

func OpenFailureLog(path string) (*FailureLog, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewFailureLog(file), file.Close, nil
}

func (l *FailureLog) Write(record FailureRecord) error {
	record.ContextLines = sanitizeContext(record.ContextLines)

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

// ReportUnfinished records f. Write errors are logged, never returned.
func (l *FailureLog) ReportUnfinished(f engine.Failure) {
	err := l.Write(FailureRecord{
		Timestamp:    l.now(),
		Session:      f.Session,
		Kind:         f.Kind,
		Phase:        f.Phase,
		Rule:         f.Rule,
		ContextLines: f.ContextLines,
	})
	if err != nil {
		l.logger.Error("write failure record", "phase", f.Phase, "rule", f.Rule, "err", err)
	}
}

func sanitizeContext(lines []string) []string {
	if len(lines) == 0 {
		return []string{}
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line
		if len(line) > maxContextLine {
			cut := maxContextLine
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			out[i] = line[:cut]
		}
	}
	return out
}
