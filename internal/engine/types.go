package engine

import (
	"log/slog"

	"github.com/buildscope/buildscope/internal/rules"
)

// GeneralHeader is the header used for events raised by phase-independent rules.
const GeneralHeader = rules.GeneralSection

// KindUnfinishedRule marks a failure where a phase or the stream ended while
// a rule was still waiting for its end pattern.
const KindUnfinishedRule = "unfinished-rule"

type Event struct {
	Severity rules.Severity
	Header   string
	Message  string
	// Context holds the lookback lines attached to an unfinished-rule error.
	Context []string
}

func (e Event) String() string {
	return "[" + e.Header + "] " + e.Message
}

type Failure struct {
	Kind         string
	Session      string
	Phase        string
	Rule         string
	ContextLines []string
}

// Reporter receives unfinished-rule failures. Reports are fire-and-forget;
// the session does not depend on their outcome.
type Reporter interface {
	ReportUnfinished(f Failure)
}

type ReporterFunc func(f Failure)

func (fn ReporterFunc) ReportUnfinished(f Failure) {
	fn(f)
}

type multiReporter []Reporter

func (m multiReporter) ReportUnfinished(f Failure) {
	for _, r := range m {
		r.ReportUnfinished(f)
	}
}

// MultiReporter fans a failure out to every non-nil reporter.
func MultiReporter(reporters ...Reporter) Reporter {
	out := make(multiReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// RuleRef identifies the active rule and the table that owns it. Table is
// either GeneralHeader or a phase name.
type RuleRef struct {
	Table string
	Rule  string
}

type options struct {
	reporter Reporter
	logger   *slog.Logger
	id       string
}

type Option func(*options)

func WithReporter(r Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithLogger sets the logger used for template failures. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSessionID stamps failures with id instead of a generated UUID.
func WithSessionID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}
