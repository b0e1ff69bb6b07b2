package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildscope/buildscope/internal/engine"
	"github.com/buildscope/buildscope/internal/observability"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/buildscope/buildscope/internal/sink"
	"github.com/buildscope/buildscope/internal/source"
)

type memorySink struct {
	events  []engine.Event
	failOn  int
	flushed bool
	closed  bool
}

func (m *memorySink) Write(e engine.Event) error {
	if m.failOn > 0 && len(m.events)+1 == m.failOn {
		return errors.New("disk full")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) Flush() error { m.flushed = true; return nil }
func (m *memorySink) Close() error { m.closed = true; return nil }
func (m *memorySink) Name() string { return "memory" }

const ruleDoc = `
BUILD:
  active: true
  phase_start_pattern: '^BEGIN BUILD$'
  phase_end_pattern: '^END BUILD$'
  rules:
    compile:
      active: true
      start_pattern: '^Compiling (?<unit>\S+)$'
      end_pattern: '^Done$'
      end_message: 'compiled %{unit}'
      severity: success
GENERAL:
  active: true
  rules:
    error:
      active: true
      start_pattern: '^error: (?<msg>.*)$'
      start_message: '%{msg}'
      severity: error
`

func ruleSet(t *testing.T) *rules.RuleSet {
	t.Helper()
	doc, err := rules.ParseDocument([]byte(ruleDoc))
	require.NoError(t, err)
	rs, err := rules.Compile(doc)
	require.NoError(t, err)
	return rs
}

// bufferedSource queues every line before Start returns, then cancels the
// run and closes its channel only once the cancellation is observed.
type bufferedSource struct {
	lines  []string
	cancel context.CancelFunc
}

func (b *bufferedSource) Name() string { return "buffered" }

func (b *bufferedSource) Start(ctx context.Context) (<-chan source.Line, error) {
	ch := make(chan source.Line, len(b.lines))
	for i, text := range b.lines {
		ch <- source.Line{Seq: uint64(i + 1), Stream: "test", Text: text}
	}
	b.cancel()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func input(lines ...string) source.Source {
	return source.NewReaderSource("test", strings.NewReader(strings.Join(lines, "\n")+"\n"), 4)
}

func TestRunClassifiesStream(t *testing.T) {
	out := &memorySink{}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	res, err := Run(context.Background(), &Config{
		Source:    input("BEGIN BUILD", "\x1b[32mCompiling main.c\x1b[0m", "Done", "error: linker failed\r", "END BUILD"),
		Rules:     ruleSet(t),
		Sinks:     []sink.Sink{out},
		Metrics:   metrics,
		SessionID: "session-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, uint64(5), res.Lines)
	assert.Equal(t, 0, res.Unfinished)
	assert.Equal(t, 2, res.Events[rules.SeveritySuccess])
	assert.Equal(t, 1, res.Events[rules.SeverityError])

	var visible []string
	for _, e := range out.events {
		if e.Severity != rules.SeverityVerbose {
			visible = append(visible, e.String())
		}
	}
	assert.Equal(t, []string{
		"[BUILD] Compiling main.c",
		"[BUILD] compiled main.c",
		"[GENERAL] linker failed",
	}, visible)
	assert.True(t, out.flushed)
	assert.True(t, out.closed)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP buildscope_lines_total Total log lines classified
# TYPE buildscope_lines_total counter
buildscope_lines_total 5
`), "buildscope_lines_total"))
}

func TestRunReportsUnfinishedAtEndOfStream(t *testing.T) {
	out := &memorySink{}
	var reported []engine.Failure

	res, err := Run(context.Background(), &Config{
		Source: input("BEGIN BUILD", "Compiling util.c"),
		Rules:  ruleSet(t),
		Sinks:  []sink.Sink{out},
		Reporter: engine.ReporterFunc(func(f engine.Failure) {
			reported = append(reported, f)
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Unfinished)
	require.Len(t, reported, 1)
	assert.Equal(t, "compile", reported[0].Rule)
	assert.Equal(t, res.SessionID, reported[0].Session)
	assert.NotEmpty(t, res.SessionID)

	last := out.events[len(out.events)-1]
	assert.Equal(t, "phase closed at end of stream", last.Message)
}

func TestRunStopsOnSinkError(t *testing.T) {
	out := &memorySink{failOn: 2}

	_, err := Run(context.Background(), &Config{
		Source: input("BEGIN BUILD", "Compiling a.c", "Done", "error: x"),
		Rules:  ruleSet(t),
		Sinks:  []sink.Sink{out},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, out.closed)
}

func TestRunRequiresInputs(t *testing.T) {
	_, err := Run(context.Background(), &Config{Rules: ruleSet(t), Sinks: []sink.Sink{&memorySink{}}})
	assert.Error(t, err)

	_, err = Run(context.Background(), &Config{Source: input("x"), Sinks: []sink.Sink{&memorySink{}}})
	assert.Error(t, err)

	_, err = Run(context.Background(), &Config{Source: input("x"), Rules: ruleSet(t)})
	assert.Error(t, err)
}

func TestRunDrainsBufferedLinesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &bufferedSource{
		lines:  []string{"BEGIN BUILD", "Compiling a.c", "Done", "error: late", "Compiling b.c"},
		cancel: cancel,
	}
	out := &memorySink{}
	var reported []engine.Failure

	res, err := Run(ctx, &Config{
		Source: src,
		Rules:  ruleSet(t),
		Sinks:  []sink.Sink{out},
		Reporter: engine.ReporterFunc(func(f engine.Failure) {
			reported = append(reported, f)
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(len(src.lines)), res.Lines)
	assert.Equal(t, 1, res.Unfinished)
	require.Len(t, reported, 1)
	assert.Equal(t, "compile", reported[0].Rule)
	assert.Equal(t, []string{"BEGIN BUILD", "Compiling a.c", "Done", "error: late", "Compiling b.c"}, reported[0].ContextLines)

	var visible []string
	for _, e := range out.events {
		if e.Severity != rules.SeverityVerbose {
			visible = append(visible, e.String())
		}
	}
	assert.Equal(t, []string{
		"[BUILD] Compiling a.c",
		"[BUILD] compiled a.c",
		"[GENERAL] late",
		"[BUILD] Compiling b.c",
		"[BUILD] BUILD ended before rule compile finished",
	}, visible)
	assert.Equal(t, "phase closed at end of stream", out.events[len(out.events)-1].Message)
	assert.True(t, out.closed)
}
