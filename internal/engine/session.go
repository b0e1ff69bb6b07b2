// Package engine classifies a stream of build-tool log lines against a
// compiled rule set and turns them into leveled events.
package engine

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/buildscope/buildscope/internal/lookback"
	"github.com/buildscope/buildscope/internal/rules"
	"github.com/buildscope/buildscope/internal/template"
)

type activeRule struct {
	ref  RuleRef
	rule *rules.Rule
}

// Session holds the classification state of one log stream. Lines must be
// delivered one at a time; a Session is not safe for concurrent use.
type Session struct {
	set      *rules.RuleSet
	memory   *lookback.Buffer
	phase    *rules.Phase
	active   *activeRule
	context  map[string]string
	stored   []string
	events   []Event
	reporter Reporter
	logger   *slog.Logger
	id       string
}

func NewSession(set *rules.RuleSet, opts ...Option) *Session {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	return &Session{
		set:      set,
		memory:   lookback.New(rules.MemorySize),
		reporter: o.reporter,
		logger:   o.logger,
		id:       o.id,
	}
}

func (s *Session) SessionID() string {
	return s.id
}

// ActivePhase returns the name of the open phase, or "" when none is open.
func (s *Session) ActivePhase() string {
	if s.phase == nil {
		return ""
	}
	return s.phase.Name
}

func (s *Session) ActiveRule() (RuleRef, bool) {
	if s.active == nil {
		return RuleRef{}, false
	}
	return s.active.ref, true
}

// Context returns a copy of the captures held for the active rule.
func (s *Session) Context() map[string]string {
	return maps.Clone(s.context)
}

// Stored returns a copy of the lines kept for the active rule.
func (s *Session) Stored() []string {
	return append([]string(nil), s.stored...)
}

// Classify processes one line and returns the events it produced.
func (s *Session) Classify(line string) []Event {
	s.memory.Push(line)

	s.startPhase(line)

	if phase := s.phase; phase != nil {
		s.apply(phase.Name, phase.Rules, line)
		if phase.End != nil && phase.End.MatchString(line) {
			s.endPhase()
		}
	}

	s.apply(GeneralHeader, s.set.Generic(), line)

	return s.flushEvents()
}

// Finish marks the end of the stream. A rule that is still active is
// reported as unfinished against the open phase (or GENERAL when none is
// open), and the open phase is closed.
func (s *Session) Finish() []Event {
	if s.active != nil {
		header := GeneralHeader
		if s.phase != nil {
			header = s.phase.Name
		}
		s.abort(header)
	}
	if s.phase != nil {
		s.emit(rules.SeverityVerbose, s.phase.Name, "phase closed at end of stream")
		s.phase = nil
	}
	return s.flushEvents()
}

// startPhase opens the first phase whose start pattern matches. The open
// phase is included in the scan, so repeating its start line restarts it.
// A phase that is replaced ends the same way as one reaching its end pattern.
func (s *Session) startPhase(line string) {
	for _, phase := range s.set.Phases() {
		if !phase.Start.MatchString(line) {
			continue
		}
		if s.phase != nil {
			s.endPhase()
		}
		s.phase = phase
		s.emit(rules.SeverityVerbose, phase.Name, "phase started")
		return
	}
}

func (s *Session) apply(header string, table *rules.Table, line string) {
	if s.active != nil && s.active.ref.Table == header {
		rule := s.active.rule
		if caps, ok := rule.End.Match(line); ok {
			for _, stored := range s.stored {
				s.emit(rule.Severity, header, stored)
			}
			s.say(header, rule, rule.EndMessage, line, caps)
			s.clearRule()
		} else if rule.StoreLines && !rule.Ignores(line) {
			s.stored = append(s.stored, line)
		}
	}

	if s.active != nil {
		return
	}

	for _, rule := range table.Rules() {
		caps, ok := rule.Start.Match(line)
		if !ok {
			continue
		}
		if rule.Activatable() {
			s.active = &activeRule{ref: RuleRef{Table: header, Rule: rule.Name}, rule: rule}
		}
		s.context = caps
		s.fetch(header, rule)
		s.say(header, rule, rule.StartMessage, line, caps)
		if !rule.Activatable() {
			s.context = nil
		}
		return
	}
}

func (s *Session) fetch(header string, rule *rules.Rule) {
	if !rule.Fetches() {
		return
	}
	var (
		line string
		ok   bool
	)
	switch {
	case rule.FetchIndex > 0:
		line, ok = s.memory.At(rule.FetchIndex)
	case len(rule.FetchSkip) > 0:
		line, ok = s.memory.FirstNotMatching(func(l string) bool {
			return rules.MatchesAny(rule.FetchSkip, l)
		})
	}
	if !ok {
		return
	}

	var caps rules.Captures
	if rule.FetchedLine != nil {
		if fetched, matched := rule.FetchedLine.Match(line); matched {
			caps = fetched
			if s.context == nil {
				s.context = map[string]string{}
			}
			maps.Copy(s.context, fetched)
		}
	}
	s.say(header, rule, rule.FetchMessage, line, caps)
}

func (s *Session) say(header string, rule *rules.Rule, msg rules.Message, raw string, local rules.Captures) {
	switch msg.Mode {
	case rules.MessageSuppress:
		return
	case rules.MessageRaw:
		s.emit(rule.Severity, header, raw)
		return
	}

	text, err := template.Render(msg.Template, local, s.context)
	if err != nil {
		s.logger.Error("render rule message", "header", header, "rule", rule.Name, "err", err)
		s.emit(rules.SeverityError, header, fmt.Sprintf("rule %s: %v", rule.Name, err))
	}
	s.emit(rule.Severity, header, text)
}

// endPhase closes the open phase. The rule slot is shared by every table,
// so whatever rule is still active is terminated with the phase.
func (s *Session) endPhase() {
	name := s.phase.Name
	if s.active != nil {
		s.abort(name)
	}
	s.emit(rules.SeverityVerbose, name, "phase finished")
	s.phase = nil
}

func (s *Session) abort(phase string) {
	ref := s.active.ref
	lines := s.memory.Snapshot()

	s.events = append(s.events, Event{
		Severity: rules.SeverityError,
		Header:   phase,
		Message:  fmt.Sprintf("%s ended before rule %s finished", phase, ref.Rule),
		Context:  lines,
	})
	if s.reporter != nil {
		s.reporter.ReportUnfinished(Failure{
			Kind:         KindUnfinishedRule,
			Session:      s.id,
			Phase:        phase,
			Rule:         ref.Rule,
			ContextLines: lines,
		})
	}
	s.clearRule()
}

func (s *Session) clearRule() {
	s.active = nil
	s.context = nil
	s.stored = nil
}

func (s *Session) emit(sev rules.Severity, header, message string) {
	s.events = append(s.events, Event{Severity: sev, Header: header, Message: message})
}

func (s *Session) flushEvents() []Event {
	out := s.events
	s.events = nil
	return out
}
