// Package template renders rule messages such as "Compiled %{file}".
package template

import (
	"fmt"
	"regexp"
)

// Fallback is returned in place of a message whose template cannot be filled.
const Fallback = "This is a default message."

var placeholderRe = regexp.MustCompile(`%\{(\w+)\}`)

type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("template references missing key %q", e.Key)
}

// Render substitutes %{name} placeholders. Values in context win over local
// captures with the same name. When a placeholder has no value, Render
// returns Fallback together with a *MissingKeyError.
func Render(tmpl string, local, context map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		key := token[2 : len(token)-1]
		if v, ok := context[key]; ok {
			return v
		}
		if v, ok := local[key]; ok {
			return v
		}
		if missing == "" {
			missing = key
		}
		return token
	})
	if missing != "" {
		return Fallback, &MissingKeyError{Key: missing}
	}
	return out, nil
}

// Placeholders lists the keys a template refers to, in order of appearance.
func Placeholders(tmpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tmpl, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
