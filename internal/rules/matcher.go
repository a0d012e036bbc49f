package rules

import (
	"strings"

	"github.com/gobwas/glob"
)

// Matcher matches file names against case-insensitive glob patterns
// such as "*.tar.gz" or "*vbaproject.bin".
type Matcher struct {
	patterns    []glob.Glob
	rawPatterns []string
}

// NewMatcher compiles patterns. Returns an error if any pattern fails to
// compile.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{
		patterns:    make([]glob.Glob, 0, len(patterns)),
		rawPatterns: make([]string, 0, len(patterns)),
	}
	for _, p := range patterns {
		p = strings.ToLower(p)
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, g)
		m.rawPatterns = append(m.rawPatterns, p)
	}
	return m, nil
}

// Match reports whether name matches any pattern. An empty matcher matches
// nothing.
func (m *Matcher) Match(name string) bool {
	_, ok := m.MatchPattern(name)
	return ok
}

// MatchPattern returns the first pattern matching name.
func (m *Matcher) MatchPattern(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	name = strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
	for i, g := range m.patterns {
		if g.Match(name) {
			return m.rawPatterns[i], true
		}
	}
	return "", false
}

// Patterns returns the raw patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.rawPatterns...)
}
