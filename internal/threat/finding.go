package threat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFragmentLen caps the matched excerpt carried by a Finding, in runes.
const MaxFragmentLen = 80

const ellipsis = "…"

// Finding is one detected signal. Build it with NewFinding; fields are
// exported for encoding only.
type Finding struct {
	Kind     RuleKind `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
	Offset   *int64   `json:"offset,omitempty"`
	Fragment string   `json:"fragment,omitempty"`
	Rule     string   `json:"rule,omitempty"`
}

// FindingOption customises a Finding at construction.
type FindingOption func(*Finding)

// WithOffset records the byte offset of the match.
func WithOffset(off int64) FindingOption {
	return func(f *Finding) {
		f.Offset = &off
	}
}

// WithFragment attaches the matched excerpt, truncated to MaxFragmentLen.
func WithFragment(s string) FindingOption {
	return func(f *Finding) {
		f.Fragment = TruncateFragment(s)
	}
}

// WithRule names the catalog rule that produced the finding.
func WithRule(name string) FindingOption {
	return func(f *Finding) {
		f.Rule = name
	}
}

// NewFinding builds a finding. An invalid severity falls back to the
// kind's baseline.
func NewFinding(kind RuleKind, sev Severity, detail string, opts ...FindingOption) Finding {
	if !sev.Valid() {
		sev = Baseline(kind)
	}
	f := Finding{Kind: kind, Severity: sev, Detail: detail}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// TruncateFragment makes s valid UTF-8 and caps it at MaxFragmentLen runes.
func TruncateFragment(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if utf8.RuneCountInString(s) <= MaxFragmentLen {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxFragmentLen {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}

func (f Finding) String() string {
	s := fmt.Sprintf("[%s] %s: %s", f.Severity, f.Kind, f.Detail)
	if f.Offset != nil {
		s += fmt.Sprintf(" @%d", *f.Offset)
	}
	return s
}

// Redacted returns a copy without the matched fragment.
func (f Finding) Redacted() Finding {
	f.Fragment = ""
	return f
}
