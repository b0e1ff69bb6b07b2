package rules

// MemorySize is the number of raw lines a session remembers for fetch rules.
const MemorySize = 10

// GeneralSection names the rule table that applies regardless of phase.
const GeneralSection = "GENERAL"

const suppressKeyword = "suppress"

type Severity string

const (
	SeverityVerbose   Severity = "verbose"
	SeverityMessage   Severity = "message"
	SeverityImportant Severity = "important"
	SeverityError     Severity = "error"
	SeveritySuccess   Severity = "success"
)

type MessageMode int

const (
	// MessageRaw emits the triggering line unchanged.
	MessageRaw MessageMode = iota
	MessageSuppress
	MessageTemplate
)

type Message struct {
	Mode     MessageMode
	Template string
}

type Rule struct {
	Name         string
	Start        *Pattern
	End          *Pattern
	StoreLines   bool
	IgnoreLines  []*Pattern
	FetchIndex   int
	FetchSkip    []*Pattern
	FetchedLine  *Pattern
	StartMessage Message
	EndMessage   Message
	FetchMessage Message
	Severity     Severity
}

// Activatable reports whether the rule stays active until its end pattern.
func (r *Rule) Activatable() bool {
	return r.End != nil
}

func (r *Rule) Fetches() bool {
	return r.FetchIndex > 0 || len(r.FetchSkip) > 0
}

func (r *Rule) Ignores(line string) bool {
	return MatchesAny(r.IgnoreLines, line)
}

// Table is an ordered rule table. Order is match priority.
type Table struct {
	Name  string
	rules []*Rule
}

func newTable(name string) *Table {
	return &Table{Name: name}
}

func (t *Table) add(r *Rule) {
	t.rules = append(t.rules, r)
}

func (t *Table) Rules() []*Rule {
	if t == nil {
		return nil
	}
	return t.rules
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

type Phase struct {
	Name   string
	Start  *Pattern
	End    *Pattern
	Silent bool
	Rules  *Table
}

// RuleSet is immutable after Compile and may be shared by many sessions.
type RuleSet struct {
	generic *Table
	phases  []*Phase
}

func (rs *RuleSet) Generic() *Table {
	return rs.generic
}

// Phases returns phases in declaration order.
func (rs *RuleSet) Phases() []*Phase {
	return rs.phases
}

type Stats struct {
	Phases       int
	SilentPhases int
	PhaseRules   int
	GenericRules int
}

func (rs *RuleSet) Stats() Stats {
	s := Stats{Phases: len(rs.phases), GenericRules: rs.generic.Len()}
	for _, p := range rs.phases {
		if p.Silent {
			s.SilentPhases++
		}
		s.PhaseRules += p.Rules.Len()
	}
	return s
}
