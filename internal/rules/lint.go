package rules

import (
	"fmt"

	"github.com/buildscope/buildscope/internal/template"
)

// Lint lists message placeholders that none of the rule's patterns can
// capture. Such a message always renders the fallback text. A start or
// fetched-line message sees the start and fetched-line captures; an end
// message also sees the end captures.
func (rs *RuleSet) Lint() []string {
	tables := []*Table{rs.generic}
	for _, p := range rs.phases {
		tables = append(tables, p.Rules)
	}

	var problems []string
	for _, table := range tables {
		for _, rule := range table.Rules() {
			where := table.Name + ".rules." + rule.Name
			known := captureSet(rule.Start)
			if rule.Fetches() {
				for name := range captureSet(rule.FetchedLine) {
					known[name] = struct{}{}
				}
			}
			problems = append(problems, lintMessage(where+".start_message", rule.StartMessage, known)...)
			if rule.Fetches() {
				problems = append(problems, lintMessage(where+".fetched_line_message", rule.FetchMessage, known)...)
			}
			if rule.Activatable() {
				for name := range captureSet(rule.End) {
					known[name] = struct{}{}
				}
				problems = append(problems, lintMessage(where+".end_message", rule.EndMessage, known)...)
			}
		}
	}
	return problems
}

func captureSet(p *Pattern) map[string]struct{} {
	out := map[string]struct{}{}
	for _, name := range p.Names() {
		out[name] = struct{}{}
	}
	return out
}

func lintMessage(where string, msg Message, known map[string]struct{}) []string {
	if msg.Mode != MessageTemplate {
		return nil
	}
	var out []string
	seen := map[string]struct{}{}
	for _, key := range template.Placeholders(msg.Template) {
		if _, ok := known[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, fmt.Sprintf("%s: %%{%s} is never captured", where, key))
	}
	return out
}
