package rules

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText folds text into the form text rules are written against:
// NUL bytes dropped, invalid UTF-8 replaced, NFKC applied (fullwidth and
// compatibility forms collapse to ASCII), invisible characters removed and
// common Cyrillic/Greek homoglyphs mapped to Latin.
func NormalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	s = strings.ReplaceAll(s, "\x00", "")
	s = norm.NFKC.String(s)
	s = stripInvisible(s)
	s = stripConfusables(s)
	// confusable folding can produce new composable sequences
	return norm.NFKC.String(s)
}

// NormalizeFilename applies NormalizeText and trims surrounding spaces.
// Windows drops trailing dots and spaces, so callers check the raw name
// for those separately.
func NormalizeFilename(name string) string {
	return strings.TrimFunc(NormalizeText(name), unicode.IsSpace)
}

// confusableMap maps the most common cross-script homoglyphs to ASCII.
// Covers Cyrillic and Greek characters that visually resemble Latin letters.
var confusableMap = map[rune]rune{
	// Cyrillic
	'\u0430': 'a', // а
	'\u0435': 'e', // е
	'\u0456': 'i', // і (Ukrainian)
	'\u043e': 'o', // о
	'\u0440': 'p', // р
	'\u0441': 'c', // с
	'\u0443': 'y', // у
	'\u0445': 'x', // х
	'\u044a': 'b', // ъ (looks like b in some fonts)
	'\u0410': 'A', // А
	'\u0412': 'B', // В
	'\u0415': 'E', // Е
	'\u041a': 'K', // К
	'\u041c': 'M', // М
	'\u041d': 'H', // Н
	'\u041e': 'O', // О
	'\u0420': 'P', // Р
	'\u0421': 'C', // С
	'\u0422': 'T', // Т
	'\u0425': 'X', // Х
	'\u0427': 'Y', // Ч (loose)
	// Greek
	'\u03b1': 'a', // α
	'\u03b5': 'e', // ε
	'\u03b9': 'i', // ι
	'\u03bf': 'o', // ο
	'\u03c1': 'p', // ρ
	'\u03c4': 't', // τ (loose)
	'\u0391': 'A', // Α
	'\u0392': 'B', // Β
	'\u0395': 'E', // Ε
	'\u0397': 'H', // Η
	'\u0399': 'I', // Ι
	'\u039a': 'K', // Κ
	'\u039c': 'M', // Μ
	'\u039d': 'N', // Ν
	'\u039f': 'O', // Ο
	'\u03a1': 'P', // Ρ
	'\u03a4': 'T', // Τ
	'\u03a7': 'X', // Χ
	'\u03a5': 'Y', // Υ
	'\u0396': 'Z', // Ζ
	// Latin small capitals survive NFKC
	'\u1D00': 'a', // ᴀ
	'\u1D04': 'c', // ᴄ
	'\u1D05': 'd', // ᴅ
	'\u1D07': 'e', // ᴇ
	'\u0262': 'g', // ɢ
	'\u029C': 'h', // ʜ
	'\u026A': 'i', // ɪ
	'\u1D0A': 'j', // ᴊ
	'\u1D0B': 'k', // ᴋ
	'\u029F': 'l', // ʟ
	'\u1D0D': 'm', // ᴍ
	'\u0274': 'n', // ɴ
	'\u1D0F': 'o', // ᴏ
	'\u1D18': 'p', // ᴘ
	'\u0280': 'r', // ʀ
	'\uA731': 's', // ꜱ
	'\u1D1B': 't', // ᴛ
	'\u1D1C': 'u', // ᴜ
	'\u1D20': 'v', // ᴠ
	'\u1D21': 'w', // ᴡ
}

// invisibleRunes are zero-width and formatting characters. They render as
// nothing but split keywords, e.g. "<scr\u200bipt>".
var invisibleRunes = map[rune]bool{
	'\u200B': true, // zero-width space
	'\u200C': true, // zero-width non-joiner
	'\u200D': true, // zero-width joiner
	'\uFEFF': true, // zero-width no-break space (BOM)
	'\u00AD': true, // soft hyphen
	'\u034F': true, // combining grapheme joiner
	'\u061C': true, // arabic letter mark
	'\u180E': true, // mongolian vowel separator
	'\u2060': true, // word joiner
	'\u2061': true, // function application
	'\u2062': true, // invisible times
	'\u2063': true, // invisible separator
	'\u2064': true, // invisible plus
	'\u206A': true, // inhibit symmetric swapping
	'\u206B': true, // activate symmetric swapping
	'\u206C': true, // inhibit arabic form shaping
	'\u206D': true, // activate arabic form shaping
	'\u206E': true, // national digit shapes
	'\u206F': true, // nominal digit shapes
	'\u200E': true, // left-to-right mark
	'\u200F': true, // right-to-left mark
	'\u202A': true, // left-to-right embedding
	'\u202B': true, // right-to-left embedding
	'\u202C': true, // pop directional formatting
	'\u202D': true, // left-to-right override
	'\u202E': true, // right-to-left override
}

// stripInvisible removes zero-width and formatting Unicode characters.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if invisibleRunes[r] {
			return -1
		}
		return r
	}, s)
}

// stripConfusables replaces cross-script homoglyphs with ASCII equivalents.
func stripConfusables(s string) string {
	return strings.Map(func(r rune) rune {
		if ascii, ok := confusableMap[r]; ok {
			return ascii
		}
		return r
	}, s)
}
