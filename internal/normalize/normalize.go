package normalize

import (
	"regexp"
	"strings"
)

var (
	// CSI sequences (colours, cursor movement) and OSC sequences (titles, links).
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
)

type Options struct {
	StripANSI bool
	TrimCR    bool
	// TrimSpace removes trailing blanks only; leading indentation is kept
	// because rule patterns often anchor on it.
	TrimSpace bool
}

// DefaultOptions is what the pipeline applies to every line.
var DefaultOptions = Options{StripANSI: true, TrimCR: true}

type Result struct {
	Raw        string
	Normalized string
}

func Apply(input string, opts Options) Result {
	res := Result{Raw: input, Normalized: input}

	if opts.TrimCR {
		res.Normalized = trimCarriageReturns(res.Normalized)
	}
	if opts.StripANSI && strings.IndexByte(res.Normalized, 0x1b) >= 0 {
		res.Normalized = StripANSI(res.Normalized)
	}
	if opts.TrimSpace {
		res.Normalized = strings.TrimRight(res.Normalized, " \t")
	}

	return res
}

func StripANSI(input string) string {
	out := oscRe.ReplaceAllString(input, "")
	return csiRe.ReplaceAllString(out, "")
}

// trimCarriageReturns keeps only the text after the last in-line carriage
// return, which is what a terminal would show for progress-bar output.
func trimCarriageReturns(input string) string {
	input = strings.TrimRight(input, "\r")
	if i := strings.LastIndexByte(input, '\r'); i >= 0 {
		return input[i+1:]
	}
	return input
}
