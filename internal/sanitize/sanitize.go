package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gobwas/glob"
)

// maxRounds bounds the strip loop. Input that still changes after this
// many rounds is nested adversarially and sanitizes to "".
const maxRounds = 16

var (
	schemePattern = regexp.MustCompile(`(?i)\b(?:j\s*a\s*v\s*a|v\s*b|l\s*i\s*v\s*e)\s*s\s*c\s*r\s*i\s*p\s*t\s*:|\bd\s*a\s*t\s*a\s*:\s*[a-z]+/[a-z0-9.+-]+`)
	entityPattern = regexp.MustCompile(`^&(?:[A-Za-z][A-Za-z0-9]{1,31}|#[0-9]{1,7}|#[xX][0-9A-Fa-f]{1,6});`)
)

// Sanitizer is a compiled Policy. It is safe for concurrent use.
type Sanitizer struct {
	policy Policy
	tags   *regexp.Regexp
	attrs  []glob.Glob
}

// New compiles p.
func New(p Policy) (*Sanitizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Sanitizer{policy: p}
	if len(p.DangerousTags) > 0 {
		names := make([]string, len(p.DangerousTags))
		for i, t := range p.DangerousTags {
			names[i] = regexp.QuoteMeta(strings.ToLower(t))
		}
		s.tags = regexp.MustCompile(`(?i)<\s*/?\s*(?:` + strings.Join(names, "|") + `)\b[^<>]*>?`)
	}
	for _, a := range p.DangerousAttributes {
		s.attrs = append(s.attrs, glob.MustCompile(strings.ToLower(a)))
	}
	return s, nil
}

// Policy returns the policy s was built from.
func (s *Sanitizer) Policy() Policy {
	return s.policy
}

// Sanitize compiles p and applies it. An unusable policy yields "".
func Sanitize(text string, p Policy) string {
	s, err := New(p)
	if err != nil {
		return ""
	}
	return s.Sanitize(text)
}

// Sanitize strips dangerous tags, attributes and schemes until nothing
// changes, then entity-encodes the HTML metacharacters. The result is a
// fixed point: sanitizing it again returns it unchanged.
func (s *Sanitizer) Sanitize(text string) (out string) {
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()

	text = dropControl(text)
	for round := 0; ; round++ {
		if round == maxRounds {
			return ""
		}
		next := s.strip(text)
		if next == text {
			break
		}
		text = next
	}
	return encode(text)
}

func (s *Sanitizer) strip(text string) string {
	if s.tags != nil {
		text = s.tags.ReplaceAllString(text, "")
	}
	if len(s.attrs) > 0 {
		text = s.stripAttributes(text)
	}
	if s.policy.StripSchemes {
		text = schemePattern.ReplaceAllString(text, "")
	}
	return text
}

// stripAttributes removes name=value pairs whose name matches a dangerous
// glob. A name must start at the beginning of text or after a character
// that cannot be part of a name.
func (s *Sanitizer) stripAttributes(text string) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(text); i++ {
		if !isNameStart(text[i]) || (i > 0 && isNameChar(text[i-1])) {
			continue
		}
		j := i + 1
		for j < len(text) && isNameChar(text[j]) {
			j++
		}
		name := text[i:j]
		k := skipSpace(text, j)
		if k >= len(text) || text[k] != '=' {
			i = j - 1
			continue
		}
		if !s.dangerousAttr(name) {
			i = j - 1
			continue
		}
		end := valueEnd(text, skipSpace(text, k+1))
		b.WriteString(text[last:i])
		last = end
		i = end - 1
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func (s *Sanitizer) dangerousAttr(name string) bool {
	name = strings.ToLower(name)
	for _, g := range s.attrs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// valueEnd returns the index just past an attribute value starting at i.
func valueEnd(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	if q := text[i]; q == '"' || q == '\'' {
		if n := strings.IndexByte(text[i+1:], q); n >= 0 {
			return i + 1 + n + 1
		}
		return len(text)
	}
	for i < len(text) && text[i] != '>' && !isSpace(text[i]) {
		i++
	}
	return i
}

func skipSpace(text string, i int) int {
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == ':'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9' || c == '-' || c == '.'
}

// dropControl removes invalid UTF-8, NUL and control characters other
// than tab, newline and carriage return.
func dropControl(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// encode escapes & < > " ' and leaves well-formed character references
// alone so that encoding is idempotent.
func encode(s string) string {
	if !strings.ContainsAny(s, `&<>"'`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			if m := entityPattern.FindString(s[i:]); m != "" {
				b.WriteString(m)
				i += len(m) - 1
				continue
			}
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
