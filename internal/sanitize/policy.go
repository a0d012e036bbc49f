// Package sanitize produces a defanged copy of untrusted text for render
// contexts that must show something. It is not a substitute for query
// parameterization or context-aware templating.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Policy selects what Sanitize removes.
type Policy struct {
	// DangerousTags are element names whose open, close and self-closing
	// tags are stripped. Matching is case-insensitive.
	DangerousTags []string `yaml:"dangerous_tags" json:"dangerous_tags"`
	// DangerousAttributes are attribute name globs ("on*", "style").
	DangerousAttributes []string `yaml:"dangerous_attributes" json:"dangerous_attributes"`
	// StripSchemes removes javascript:, vbscript: and data: URL prefixes.
	StripSchemes bool `yaml:"strip_schemes" json:"strip_schemes"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		DangerousTags: []string{
			"script", "iframe", "frame", "frameset", "object", "embed", "applet",
			"base", "meta", "link", "style", "form", "svg", "math", "portal",
		},
		DangerousAttributes: []string{
			"on*", "style", "formaction", "srcdoc", "background", "dynsrc", "lowsrc", "xmlns*",
		},
		StripSchemes: true,
	}
}

// Validate reports tag names or attribute globs that cannot be used.
func (p Policy) Validate() error {
	for _, t := range p.DangerousTags {
		if !isTagName(t) {
			return fmt.Errorf("invalid tag name %q", t)
		}
	}
	for _, a := range p.DangerousAttributes {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("empty attribute pattern")
		}
		if _, err := glob.Compile(strings.ToLower(a)); err != nil {
			return fmt.Errorf("invalid attribute pattern %q: %w", a, err)
		}
	}
	return nil
}

func isTagName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == ':'):
		default:
			return false
		}
	}
	return true
}
