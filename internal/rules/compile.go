package rules

import (
	"fmt"
	"sort"
	"strings"
)

// CompileError lists every problem found while compiling a rules document.
type CompileError struct {
	Problems []string
}

func (e *CompileError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *CompileError) Error() string {
	if len(e.Problems) == 1 {
		return "compile rules: " + e.Problems[0]
	}
	return fmt.Sprintf("compile rules: %d problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Compile turns a rules document into a RuleSet. Inactive sections, inactive
// rules, rules without a start pattern and phases without a start pattern are
// dropped before anything else is checked, so only the entries that survive
// must have unique names. Any pattern that does not compile fails the whole
// document.
func Compile(doc *Document) (*RuleSet, error) {
	if doc == nil {
		return nil, fmt.Errorf("rules document is required")
	}

	errs := &CompileError{}
	rs := &RuleSet{generic: newTable(GeneralSection)}
	seen := map[string]struct{}{}

	for _, sec := range doc.Sections {
		if !sec.Active || (sec.Name != GeneralSection && sec.PhaseStartPattern == "") {
			continue
		}
		if _, dup := seen[sec.Name]; dup {
			errs.add("section %s is duplicated", sec.Name)
			continue
		}
		seen[sec.Name] = struct{}{}

		if sec.Name == GeneralSection {
			rs.generic = compileTable(GeneralSection, sec.Rules, errs)
			continue
		}
		phase := &Phase{
			Name:   sec.Name,
			Start:  compilePattern(errs, sec.Name+".phase_start_pattern", sec.PhaseStartPattern),
			End:    compilePattern(errs, sec.Name+".phase_end_pattern", sec.PhaseEndPattern),
			Silent: sec.Silent,
			Rules:  newTable(sec.Name),
		}
		if !sec.Silent {
			phase.Rules = compileTable(sec.Name, sec.Rules, errs)
		}
		rs.phases = append(rs.phases, phase)
	}

	if len(errs.Problems) > 0 {
		sort.Strings(errs.Problems)
		return nil, errs
	}
	return rs, nil
}

func compileTable(name string, entries RuleEntries, errs *CompileError) *Table {
	table := newTable(name)
	seen := map[string]struct{}{}
	for _, raw := range entries {
		if !raw.Active || raw.StartPattern == "" {
			continue
		}
		if _, dup := seen[raw.Name]; dup {
			errs.add("%s.rules.%s is duplicated", name, raw.Name)
			continue
		}
		seen[raw.Name] = struct{}{}
		table.add(compileRule(name+".rules."+raw.Name, raw, errs))
	}
	return table
}

func compileRule(where string, raw RuleConfig, errs *CompileError) *Rule {
	r := &Rule{
		Name:         raw.Name,
		Start:        compilePattern(errs, where+".start_pattern", raw.StartPattern),
		End:          compilePattern(errs, where+".end_pattern", raw.EndPattern),
		StoreLines:   raw.StoreLines,
		IgnoreLines:  compilePatterns(errs, where+".ignore_lines", raw.IgnoreLines),
		FetchSkip:    compilePatterns(errs, where+".fetch_first_line_not_matching", raw.FetchFirstLineNotMatching),
		FetchedLine:  compilePattern(errs, where+".fetched_line_pattern", raw.FetchedLinePattern),
		StartMessage: compileMessage(raw.StartMessage),
		EndMessage:   compileMessage(raw.EndMessage),
		FetchMessage: compileMessage(raw.FetchedLineMessage),
		Severity:     NormalizeSeverity(raw.Severity),
	}
	if idx := raw.FetchLineAtIndex; idx != nil && *idx > 0 && *idx < MemorySize {
		r.FetchIndex = *idx
	}
	return r
}

func compilePattern(errs *CompileError, where, source string) *Pattern {
	if source == "" {
		return nil
	}
	p, err := NewPattern(source)
	if err != nil {
		errs.add("%s: %v", where, err)
		return nil
	}
	return p
}

func compilePatterns(errs *CompileError, where string, sources []string) []*Pattern {
	if len(sources) == 0 {
		return nil
	}
	out := make([]*Pattern, 0, len(sources))
	for i, source := range sources {
		if p := compilePattern(errs, fmt.Sprintf("%s[%d]", where, i), source); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// compileMessage treats an empty template like an absent one.
func compileMessage(raw *string) Message {
	switch {
	case raw == nil || *raw == "":
		return Message{Mode: MessageRaw}
	case *raw == suppressKeyword:
		return Message{Mode: MessageSuppress}
	default:
		return Message{Mode: MessageTemplate, Template: *raw}
	}
}

// NormalizeSeverity maps a configured severity onto the supported set.
// "warning" is an older spelling of "important"; anything unknown is a message.
func NormalizeSeverity(raw string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityImportant, "warning":
		return SeverityImportant
	case SeverityError:
		return SeverityError
	case SeveritySuccess:
		return SeveritySuccess
	default:
		return SeverityMessage
	}
}
