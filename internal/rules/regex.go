package rules

import "regexp"

// Captures maps named capture groups to the text they matched.
type Captures map[string]string

// Pattern is a compiled regular expression that reports named captures.
type Pattern struct {
	source string
	re     *regexp.Regexp
}

func NewPattern(source string) (*Pattern, error) {
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, err
	}
	return &Pattern{source: source, re: re}, nil
}

func (p *Pattern) String() string {
	return p.source
}

// Names lists the named capture groups of the pattern.
func (p *Pattern) Names() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, name := range p.re.SubexpNames() {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (p *Pattern) MatchString(input string) bool {
	return p.re.MatchString(input)
}

// Match returns the named captures of the first match. Named groups that did
// not take part in the match are reported as empty strings.
func (p *Pattern) Match(input string) (Captures, bool) {
	loc := p.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return nil, false
	}
	caps := Captures{}
	for i, name := range p.re.SubexpNames() {
		if name == "" {
			continue
		}
		start, end := loc[2*i], loc[2*i+1]
		if start < 0 {
			caps[name] = ""
			continue
		}
		caps[name] = input[start:end]
	}
	return caps, true
}

func MatchesAny(patterns []*Pattern, input string) bool {
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
