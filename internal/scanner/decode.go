package scanner

import (
	"html"
	"regexp"
	"strings"

	"github.com/pulseboard/sentinel/internal/rules"
)

var (
	// truncatedEscape is a '%' followed by a single hex digit. On its own
	// it is ordinary prose ("20%Discount", "10%d"); it only marks a mangled
	// escape when the same string also carries well-formed ones.
	truncatedEscape = regexp.MustCompile(`%[0-9A-Fa-f](?:[^0-9A-Fa-f]|$)`)
	percentEscape   = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
)

// decodeLayer peels one URL layer and then one HTML entity layer, and
// re-normalizes the result. malformed reports a truncated percent escape;
// decoding still proceeds leniently past it.
func decodeLayer(s string) (decoded string, malformed bool) {
	malformed = truncatedEscape.MatchString(s) && percentEscape.MatchString(s)
	decoded = html.UnescapeString(urlDecodeLenient(s))
	return rules.NormalizeText(decoded), malformed
}

// urlDecodeLenient decodes %XX escapes and '+' as space, copying anything
// malformed through unchanged.
func urlDecodeLenient(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case c == '+':
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
