// Package prompt answers interactive prompts of the scanning tool.
//
// A Table is an ordered list of rules. Every rule is checked against every
// chunk read from the tool output and each matching rule yields its response.
// Nothing is remembered between chunks.
package prompt

import (
	"bytes"
)

// Responder decides what to write back to the process for a chunk of output
type Responder interface {
	Respond(chunk []byte) [][]byte
}

type Matcher interface {
	Match(chunk []byte) bool
}

// Contains matches chunks containing the prompt text
type Contains string

func (c Contains) Match(chunk []byte) bool {
	return len(c) > 0 && bytes.Contains(chunk, []byte(c))
}

type Rule struct {
	Matcher  Matcher
	Response []byte
}

type Table struct {
	rules []Rule
}

func NewTable(rules ...Rule) Table {
	return Table{rules: append([]Rule(nil), rules...)}
}

// Default returns the prompts toxssin asks during a scan
func Default() Table {
	return NewTable(
		Rule{Matcher: Contains("Follow redirects? [y/N]"), Response: []byte("y\n")},
		Rule{Matcher: Contains("Save results to file? [y/N]"), Response: []byte("N\n")},
		Rule{Matcher: Contains("Continue scanning? [Y/n]"), Response: []byte("Y\n")},
	)
}

// With returns a copy of t with rules appended
func (t Table) With(rules ...Rule) Table {
	return NewTable(append(append([]Rule(nil), t.rules...), rules...)...)
}

// Rules returns a copy of the rules in table order
func (t Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

func (t Table) Len() int {
	return len(t.rules)
}

// Respond returns the responses of all rules matching chunk, in table order
func (t Table) Respond(chunk []byte) [][]byte {
	var ret [][]byte
	for _, r := range t.rules {
		if r.Matcher == nil || !r.Matcher.Match(chunk) {
			continue
		}
		ret = append(ret, r.Response)
	}
	return ret
}
