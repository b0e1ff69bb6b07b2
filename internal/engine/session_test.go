package engine

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/buildscope/buildscope/internal/rules"
	"github.com/buildscope/buildscope/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, doc string) *rules.RuleSet {
	t.Helper()
	parsed, err := rules.ParseDocument([]byte(doc))
	require.NoError(t, err)
	rs, err := rules.Compile(parsed)
	require.NoError(t, err)
	return rs
}

type recorder struct {
	failures []Failure
}

func (r *recorder) ReportUnfinished(f Failure) {
	r.failures = append(r.failures, f)
}

func feed(s *Session, lines ...string) []Event {
	var out []Event
	for _, line := range lines {
		out = append(out, s.Classify(line)...)
	}
	return out
}

func withoutVerbose(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Severity != rules.SeverityVerbose {
			out = append(out, e)
		}
	}
	return out
}

const buildRules = `{
  "BUILD": {
    "active": true,
    "phase_start_pattern": "^BEGIN BUILD$",
    "phase_end_pattern": "^END BUILD$",
    "rules": {
      "compile": {
        "active": true,
        "start_pattern": "^Compiling$",
        "end_pattern": "^Done$",
        "store_lines": true,
        "ignore_lines": ["^\\s*$", "^note:"]
      }
    }
  }
}`

func TestGenericOneShotRule(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "greet": {"active": true, "start_pattern": "^Hello (?<name>\\w+)$", "start_message": "Greeted %{name}"}
	    }
	  }
	}`)
	s := NewSession(rs)

	events := s.Classify("Hello World")

	require.Len(t, events, 1)
	assert.Equal(t, rules.SeverityMessage, events[0].Severity)
	assert.Equal(t, "[GENERAL] Greeted World", events[0].String())
	_, active := s.ActiveRule()
	assert.False(t, active)
	assert.Empty(t, s.Context())
}

func TestPhaseRuleStoresAndFlushesLines(t *testing.T) {
	s := NewSession(compile(t, buildRules))

	begin := s.Classify("BEGIN BUILD")
	require.Len(t, begin, 1)
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "BUILD", Message: "phase started"}, begin[0])
	assert.Equal(t, "BUILD", s.ActivePhase())

	started := s.Classify("Compiling")
	ref, ok := s.ActiveRule()
	require.True(t, ok)
	assert.Equal(t, RuleRef{Table: "BUILD", Rule: "compile"}, ref)
	assert.Equal(t, []Event{{Severity: rules.SeverityMessage, Header: "BUILD", Message: "Compiling"}}, started)

	assert.Empty(t, s.Classify("file1.c"))
	assert.Empty(t, s.Classify("note: skipped"))
	assert.Empty(t, s.Classify("file2.c"))
	assert.Equal(t, []string{"file1.c", "file2.c"}, s.Stored())

	done := s.Classify("Done")
	require.Len(t, done, 3)
	assert.Equal(t, "[BUILD] file1.c", done[0].String())
	assert.Equal(t, "[BUILD] file2.c", done[1].String())
	assert.Equal(t, "[BUILD] Done", done[2].String())
	for _, e := range done {
		assert.Equal(t, rules.SeverityMessage, e.Severity)
	}

	_, ok = s.ActiveRule()
	assert.False(t, ok)
	assert.Empty(t, s.Stored())
	assert.Equal(t, "BUILD", s.ActivePhase())
}

func TestPhaseRestartAbortsUnfinishedRule(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, buildRules), WithReporter(rec), WithSessionID("run-1"))

	feed(s, "BEGIN BUILD", "Compiling")
	events := s.Classify("BEGIN BUILD")

	require.Len(t, events, 3)
	assert.Equal(t, rules.SeverityError, events[0].Severity)
	assert.Equal(t, "BUILD", events[0].Header)
	assert.Contains(t, events[0].Message, "compile")
	assert.Equal(t, []string{"BEGIN BUILD", "Compiling", "BEGIN BUILD"}, events[0].Context)
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "BUILD", Message: "phase finished"}, events[1])
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "BUILD", Message: "phase started"}, events[2])

	require.Len(t, rec.failures, 1)
	assert.Equal(t, Failure{
		Kind:         KindUnfinishedRule,
		Session:      "run-1",
		Phase:        "BUILD",
		Rule:         "compile",
		ContextLines: []string{"BEGIN BUILD", "Compiling", "BEGIN BUILD"},
	}, rec.failures[0])

	_, ok := s.ActiveRule()
	assert.False(t, ok)
	assert.Empty(t, s.Context())
	assert.Empty(t, s.Stored())

	// The session keeps working after the failure.
	s.Classify("Compiling")
	_, ok = s.ActiveRule()
	assert.True(t, ok)
}

func TestPhaseEndPatternWithActiveRule(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, buildRules), WithReporter(rec))

	events := feed(s, "BEGIN BUILD", "Compiling", "file1.c", "END BUILD")

	require.Len(t, rec.failures, 1)
	assert.Equal(t, "compile", rec.failures[0].Rule)
	last := events[len(events)-2:]
	assert.Equal(t, rules.SeverityError, last[0].Severity)
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "BUILD", Message: "phase finished"}, last[1])
	assert.Equal(t, "", s.ActivePhase())
}

func TestPhaseEndClosesRuleOnSameLine(t *testing.T) {
	rs := compile(t, `{
	  "TEST": {
	    "active": true,
	    "phase_start_pattern": "^== tests ==$",
	    "phase_end_pattern": "^== end ==$",
	    "rules": {
	      "suite": {"active": true, "start_pattern": "^suite", "end_pattern": "^== end ==$", "end_message": "suppress"}
	    }
	  }
	}`)
	rec := &recorder{}
	s := NewSession(rs, WithReporter(rec))

	events := feed(s, "== tests ==", "suite a", "== end ==")

	assert.Empty(t, rec.failures)
	assert.Equal(t, []Event{{Severity: rules.SeverityMessage, Header: "TEST", Message: "suite a"}}, withoutVerbose(events))
}

func TestFetchFirstLineNotMatching(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "trigger": {
	        "active": true,
	        "start_pattern": "^TRIGGER$",
	        "start_message": "suppress",
	        "fetch_first_line_not_matching": ["^#"],
	        "fetched_line_message": "fetched: %{line}",
	        "fetched_line_pattern": "^(?<line>.*)$"
	      }
	    }
	  }
	}`)
	s := NewSession(rs)

	events := feed(s, "#comment", "#comment", "real line", "TRIGGER")

	require.Len(t, events, 1)
	assert.Equal(t, "[GENERAL] fetched: real line", events[0].String())
}

func TestFetchLineAtIndexMergesContext(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "failure": {
	        "active": true,
	        "start_pattern": "^make: \\*\\*\\* \\[(?<target>\\S+)\\] Error (?<code>\\d+)$",
	        "end_pattern": "^make: Leaving",
	        "fetch_line_at_index": 2,
	        "fetched_line_pattern": "^(?<file>[\\w./]+):(?<line>\\d+):",
	        "fetched_line_message": "suppress",
	        "start_message": "%{target} failed in %{file}:%{line} (exit %{code})",
	        "end_message": "left %{dir} after %{target}",
	        "severity": "error"
	      }
	    }
	  }
	}`)
	s := NewSession(rs)

	events := feed(s,
		"main.c:12: error: expected ';'",
		"compilation terminated.",
		"make: *** [main.o] Error 1",
	)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Severity: rules.SeverityError, Header: "GENERAL", Message: "main.o failed in main.c:12 (exit 1)"}, events[0])
	assert.Equal(t, map[string]string{"target": "main.o", "code": "1", "file": "main.c", "line": "12"}, s.Context())

	end := s.Classify("make: Leaving directory '/src'")
	require.Len(t, end, 2)
	assert.Equal(t, rules.SeverityError, end[0].Severity)
	assert.Contains(t, end[0].Message, `"dir"`)
	assert.Equal(t, template.Fallback, end[1].Message)
}

func TestFetchSkippedWhenMemoryTooShort(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "tail": {"active": true, "start_pattern": "^boom$", "fetch_line_at_index": 3, "start_message": "boom"}
	    }
	  }
	}`)
	s := NewSession(rs)

	events := feed(s, "a", "boom")
	require.Len(t, events, 1)
	assert.Equal(t, "[GENERAL] boom", events[0].String())
}

func TestMissingPlaceholderFallsBack(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "oops": {"active": true, "start_pattern": "^oops$", "start_message": "value is %{missing}", "severity": "warning"}
	    }
	  }
	}`)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	s := NewSession(rs, WithLogger(logger))

	var events []Event
	require.NotPanics(t, func() { events = s.Classify("oops") })

	require.Len(t, events, 2)
	assert.Equal(t, rules.SeverityError, events[0].Severity)
	assert.Contains(t, events[0].Message, "oops")
	assert.Equal(t, Event{Severity: rules.SeverityImportant, Header: "GENERAL", Message: template.Fallback}, events[1])
	assert.Contains(t, logs.String(), "rule=oops")
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestContextWinsOverLocalCaptures(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "step": {
	        "active": true,
	        "start_pattern": "^start (?<name>\\w+)$",
	        "end_pattern": "^stop (?<name>\\w+)$",
	        "start_message": "suppress",
	        "end_message": "%{name} stopped"
	      }
	    }
	  }
	}`)
	s := NewSession(rs)

	feed(s, "start alpha")
	events := s.Classify("stop beta")
	require.Len(t, events, 1)
	assert.Equal(t, "alpha stopped", events[0].Message)
}

const downloadRules = `{
  "BUILD": {"active": true, "phase_start_pattern": "^BEGIN BUILD$", "phase_end_pattern": "^END BUILD$", "rules": {}},
  "TEST": {"active": true, "phase_start_pattern": "^BEGIN TEST$", "silent": true},
  "GENERAL": {
    "active": true,
    "rules": {
      "download": {"active": true, "start_pattern": "^Downloading (?<pkg>\\S+)$", "end_pattern": "^Downloaded$", "end_message": "got %{pkg}", "severity": "success"}
    }
  }
}`

func TestPhaseReplacementAbortsGeneralRule(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, downloadRules), WithReporter(rec))

	feed(s, "BEGIN BUILD", "Downloading zlib")
	events := s.Classify("BEGIN TEST")

	require.Len(t, events, 3)
	assert.Equal(t, rules.SeverityError, events[0].Severity)
	assert.Equal(t, "BUILD", events[0].Header)
	assert.Contains(t, events[0].Message, "download")
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "BUILD", Message: "phase finished"}, events[1])
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "TEST", Message: "phase started"}, events[2])

	require.Len(t, rec.failures, 1)
	assert.Equal(t, "BUILD", rec.failures[0].Phase)
	assert.Equal(t, "download", rec.failures[0].Rule)
	_, ok := s.ActiveRule()
	assert.False(t, ok)
	assert.Empty(t, s.Context())
	assert.Equal(t, "TEST", s.ActivePhase())

	// The end line no longer has a rule to close.
	assert.Empty(t, s.Classify("Downloaded"))
}

func TestPhaseEndAbortsGeneralRule(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, downloadRules), WithReporter(rec))

	feed(s, "BEGIN BUILD", "Downloading zlib")
	events := s.Classify("END BUILD")

	require.Len(t, events, 2)
	assert.Equal(t, rules.SeverityError, events[0].Severity)
	assert.Equal(t, Event{Severity: rules.SeverityVerbose, Header: "BUILD", Message: "phase finished"}, events[1])
	require.Len(t, rec.failures, 1)
	assert.Equal(t, Failure{
		Kind:         KindUnfinishedRule,
		Session:      s.SessionID(),
		Phase:        "BUILD",
		Rule:         "download",
		ContextLines: []string{"BEGIN BUILD", "Downloading zlib", "END BUILD"},
	}, rec.failures[0])
	_, ok := s.ActiveRule()
	assert.False(t, ok)
	assert.Equal(t, "", s.ActivePhase())
}

func TestGeneralRuleSurvivesFirstPhaseStart(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, downloadRules), WithReporter(rec))

	feed(s, "Downloading zlib", "BEGIN BUILD")
	assert.Empty(t, rec.failures)

	events := s.Classify("Downloaded")
	require.Len(t, events, 1)
	assert.Equal(t, Event{Severity: rules.SeveritySuccess, Header: GeneralHeader, Message: "got zlib"}, events[0])
}

func TestFinishReportsGeneralRuleAgainstOpenPhase(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, downloadRules), WithReporter(rec))

	feed(s, "BEGIN BUILD", "Downloading zlib")
	events := s.Finish()

	require.Len(t, events, 2)
	assert.Equal(t, "BUILD", events[0].Header)
	require.Len(t, rec.failures, 1)
	assert.Equal(t, "BUILD", rec.failures[0].Phase)
}

func TestActivePhaseRuleBlocksGeneralRules(t *testing.T) {
	rs := compile(t, `{
	  "BUILD": {
	    "active": true,
	    "phase_start_pattern": "^BEGIN BUILD$",
	    "rules": {"compile": {"active": true, "start_pattern": "^Compiling$", "end_pattern": "^Done$"}}
	  },
	  "GENERAL": {
	    "active": true,
	    "rules": {"warn": {"active": true, "start_pattern": "warning", "severity": "important"}}
	  }
	}`)
	s := NewSession(rs)

	feed(s, "BEGIN BUILD", "Compiling")
	assert.Empty(t, s.Classify("warning: unused variable"))

	s.Classify("Done")
	events := s.Classify("warning: unused variable")
	require.Len(t, events, 1)
	assert.Equal(t, rules.SeverityImportant, events[0].Severity)
}

func TestFinishReportsUnfinishedRule(t *testing.T) {
	rec := &recorder{}
	s := NewSession(compile(t, buildRules), WithReporter(rec))

	feed(s, "BEGIN BUILD", "Compiling", "file1.c")
	events := s.Finish()

	require.Len(t, events, 2)
	assert.Equal(t, rules.SeverityError, events[0].Severity)
	assert.Equal(t, rules.SeverityVerbose, events[1].Severity)
	require.Len(t, rec.failures, 1)
	assert.Equal(t, "BUILD", rec.failures[0].Phase)
	assert.Equal(t, "", s.ActivePhase())

	assert.Empty(t, s.Finish())
}

func TestFinishGeneralRuleUsesGeneralHeader(t *testing.T) {
	rs := compile(t, `{"GENERAL": {"active": true, "rules": {"r": {"active": true, "start_pattern": "^a$", "end_pattern": "^b$"}}}}`)
	rec := &recorder{}
	s := NewSession(rs, WithReporter(rec))

	s.Classify("a")
	s.Finish()

	require.Len(t, rec.failures, 1)
	assert.Equal(t, GeneralHeader, rec.failures[0].Phase)
}

func TestOnlyFirstMatchingRuleStarts(t *testing.T) {
	rs := compile(t, `{
	  "GENERAL": {
	    "active": true,
	    "rules": {
	      "specific": {"active": true, "start_pattern": "^error: disk", "start_message": "disk"},
	      "broad": {"active": true, "start_pattern": "^error:", "start_message": "broad"}
	    }
	  }
	}`)
	s := NewSession(rs)

	events := s.Classify("error: disk full")
	require.Len(t, events, 1)
	assert.Equal(t, "disk", events[0].Message)
}

func TestSingleActiveRuleInvariant(t *testing.T) {
	rs := compile(t, `{
	  "BUILD": {
	    "active": true,
	    "phase_start_pattern": "^BEGIN (?:BUILD|ALL)$",
	    "phase_end_pattern": "^END$",
	    "rules": {
	      "a": {"active": true, "start_pattern": "^a(?<n>\\d)?", "end_pattern": "^z", "store_lines": true},
	      "b": {"active": true, "start_pattern": "^b", "end_pattern": "^y", "fetch_line_at_index": 1}
	    }
	  },
	  "LINK": {"active": true, "phase_start_pattern": "^BEGIN LINK$", "rules": {
	    "c": {"active": true, "start_pattern": "^c", "end_pattern": "^x"}
	  }},
	  "GENERAL": {"active": true, "rules": {
	    "g": {"active": true, "start_pattern": "^g", "end_pattern": "^END$"}
	  }}
	}`)
	s := NewSession(rs, WithReporter(&recorder{}))

	alphabet := []string{"a1", "b", "c", "g", "z", "y", "x", "BEGIN BUILD", "BEGIN LINK", "END", "q"}
	for i := 0; i < 500; i++ {
		line := alphabet[(i*7+i/3)%len(alphabet)]
		s.Classify(line)
		if _, ok := s.ActiveRule(); !ok {
			require.Empty(t, s.Context(), "line %d %q", i, line)
			require.Empty(t, s.Stored(), "line %d %q", i, line)
		}
	}
}

func TestIdempotentCompilation(t *testing.T) {
	lines := strings.Split("BEGIN BUILD\nCompiling\nfile1.c\n\nDone\nCompiling\nBEGIN BUILD\nEND BUILD", "\n")

	run := func() []string {
		s := NewSession(compile(t, buildRules), WithReporter(&recorder{}))
		var out []string
		for _, e := range append(feed(s, lines...), s.Finish()...) {
			out = append(out, fmt.Sprintf("%s %s", e.Severity, e))
		}
		return out
	}

	assert.Equal(t, run(), run())
}
