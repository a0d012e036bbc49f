package rules

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

// maxRegexLen limits catalog regex length to bound compilation cost.
const maxRegexLen = 4096

// compileRegex compiles a catalog pattern. Go's RE2 engine guarantees
// matching time linear in the input.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > maxRegexLen {
		return nil, fmt.Errorf("regex pattern too long (%d > %d chars)", len(pattern), maxRegexLen)
	}
	if strings.ContainsRune(pattern, 0) {
		return nil, fmt.Errorf("regex pattern contains null byte")
	}
	return regexp.Compile(pattern)
}

// BytePattern is a magic-byte sequence with wildcard positions.
type BytePattern struct {
	Offset int
	Bytes  []byte
	// Mask[i] is false where the pattern has "??".
	Mask []bool
	Raw  string
}

// ParseBytePattern parses "FF D8 FF" or "52 49 46 46 ?? ?? ?? ?? 57 45 42 50".
func ParseBytePattern(s string, offset int) (BytePattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return BytePattern{}, fmt.Errorf("empty byte pattern")
	}
	p := BytePattern{
		Offset: offset,
		Bytes:  make([]byte, len(fields)),
		Mask:   make([]bool, len(fields)),
		Raw:    strings.ToUpper(strings.Join(fields, " ")),
	}
	for i, f := range fields {
		if f == "??" {
			continue
		}
		b, err := hex.DecodeString(f)
		if err != nil || len(b) != 1 {
			return BytePattern{}, fmt.Errorf("invalid byte %q in pattern %q", f, s)
		}
		p.Bytes[i] = b[0]
		p.Mask[i] = true
	}
	return p, nil
}

// Len is the number of bytes the pattern spans from its offset.
func (p BytePattern) Len() int {
	return len(p.Bytes)
}

// Match reports whether head contains the pattern at its offset.
func (p BytePattern) Match(head []byte) bool {
	if p.Offset+len(p.Bytes) > len(head) {
		return false
	}
	for i, b := range p.Bytes {
		if p.Mask[i] && head[p.Offset+i] != b {
			return false
		}
	}
	return true
}

// ExecutableSignature is checked against every upload.
type ExecutableSignature struct {
	Name        string
	Kind        threat.RuleKind
	Severity    threat.Severity
	Pattern     BytePattern
	Description string
	allowFor    map[string]bool
}

// AllowedFor reports whether the signature is expected for mediaType,
// e.g. a ZIP header on a declared application/zip upload.
func (e ExecutableSignature) AllowedFor(mediaType string) bool {
	return e.allowFor[mediaType]
}

// TextRule is a compiled text pattern.
type TextRule struct {
	Name        string
	Kind        threat.RuleKind
	Severity    threat.Severity
	Description string
	Regex       *regexp.Regexp
	Source      Source
	contexts    map[types.ContextTag]bool
}

// AppliesTo reports whether the rule runs for ctx.
func (r *TextRule) AppliesTo(ctx types.ContextTag) bool {
	return r.contexts[ctx]
}

// Contexts returns the rule's contexts in canonical order.
func (r *TextRule) Contexts() []types.ContextTag {
	var out []types.ContextTag
	for _, c := range types.AllContexts() {
		if r.contexts[c] {
			out = append(out, c)
		}
	}
	return out
}

// ContentRule is a compiled pattern for uploaded bytes.
type ContentRule struct {
	Name        string
	Severity    threat.Severity
	Description string
	Regex       *regexp.Regexp
	Source      Source
}

func compileTextRule(cfg TextRuleConfig, source Source) (*TextRule, error) {
	kind := threat.RuleKind(cfg.Kind)
	sev := threat.Baseline(kind)
	if cfg.Severity != "" {
		s, err := threat.ParseSeverity(cfg.Severity)
		if err != nil {
			return nil, err
		}
		sev = s
	}
	ctxs, err := expandContexts(cfg.Contexts)
	if err != nil {
		return nil, err
	}
	re, err := compileRegex(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	return &TextRule{
		Name:        cfg.Name,
		Kind:        kind,
		Severity:    sev,
		Description: cfg.Description,
		Regex:       re,
		Source:      source,
		contexts:    ctxs,
	}, nil
}

func compileContentRule(cfg ContentRuleConfig, source Source) (*ContentRule, error) {
	sev := threat.Critical
	if cfg.Severity != "" {
		s, err := threat.ParseSeverity(cfg.Severity)
		if err != nil {
			return nil, err
		}
		sev = s
	}
	re, err := compileRegex(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	return &ContentRule{
		Name:        cfg.Name,
		Severity:    sev,
		Description: cfg.Description,
		Regex:       re,
		Source:      source,
	}, nil
}

func compileExecutable(cfg ExecutableConfig) (ExecutableSignature, error) {
	kind := threat.ExecutableSignature
	if cfg.Kind != "" {
		kind = threat.RuleKind(cfg.Kind)
	}
	sev := threat.Baseline(kind)
	if cfg.Severity != "" {
		s, err := threat.ParseSeverity(cfg.Severity)
		if err != nil {
			return ExecutableSignature{}, err
		}
		sev = s
	}
	p, err := ParseBytePattern(cfg.Pattern, cfg.Offset)
	if err != nil {
		return ExecutableSignature{}, err
	}
	allow := make(map[string]bool, len(cfg.AllowFor))
	for _, mt := range cfg.AllowFor {
		allow[NormalizeMediaType(mt)] = true
	}
	return ExecutableSignature{
		Name:        cfg.Name,
		Kind:        kind,
		Severity:    sev,
		Pattern:     p,
		Description: cfg.Description,
		allowFor:    allow,
	}, nil
}

// keywordPattern builds one case-insensitive alternation over words.
// Spaces inside a phrase match any run of whitespace.
func keywordPattern(words []string) (*regexp.Regexp, error) {
	if len(words) == 0 {
		return nil, nil
	}
	alts := make([]string, 0, len(words))
	for _, w := range words {
		parts := strings.Fields(w)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		alts = append(alts, strings.Join(parts, `\s+`))
	}
	return compileRegex(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// NormalizeMediaType lowercases a media type and drops parameters.
func NormalizeMediaType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
