package scanner

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pulseboard/sentinel/internal/threat"
)

// traversalMarkers are raw or percent-encoded separators and parent
// references, including overlong UTF-8 forms of '/' and '\'.
var traversalMarkers = []string{
	"/", "\\",
	"%2e%2e", "%2f", "%5c",
	"%c0%af", "%c1%9c", "%c0%2f", "%c0%5c", "%e0%80%af",
	"..%c0", "..%25",
}

// extensions splits name into its dot-separated extensions, lowercased.
// A leading dot belongs to the base name (".htaccess" has none).
func extensions(name string) []string {
	parts := strings.Split(strings.TrimLeft(name, "."), ".")
	if len(parts) < 2 {
		return nil
	}
	exts := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		exts = append(exts, strings.ToLower(strings.TrimSpace(p)))
	}
	return exts
}

func (b *binaryScan) checkFilename() []threat.Finding {
	raw := b.subject.DeclaredName
	var out []threat.Finding

	if strings.ContainsRune(raw, 0) {
		out = append(out, threat.NewFinding(threat.InvalidFilename, threat.High,
			"file name contains a null byte", threat.WithFragment(raw)))
	}
	if strings.ContainsFunc(raw, func(r rune) bool { return r != 0 && unicode.IsControl(r) }) {
		out = append(out, threat.NewFinding(threat.InvalidFilename, threat.Medium,
			"file name contains control characters", threat.WithFragment(raw)))
	}
	if len(raw) > b.limits.MaxFilenameLen {
		out = append(out, threat.NewFinding(threat.InvalidFilename, threat.Medium,
			fmt.Sprintf("file name is %d bytes (max %d)", len(raw), b.limits.MaxFilenameLen)))
	}

	lower := strings.ToLower(raw)
	normLower := strings.ToLower(b.name)
	for _, m := range traversalMarkers {
		if strings.Contains(lower, m) || strings.Contains(normLower, m) {
			out = append(out, threat.NewFinding(threat.PathTraversal, threat.High,
				"file name contains a path component", threat.WithFragment(raw)))
			break
		}
	}
	if b.name == "." || strings.HasPrefix(b.name, "..") {
		out = append(out, threat.NewFinding(threat.PathTraversal, threat.High,
			"file name refers to a parent directory", threat.WithFragment(raw)))
	}

	base := strings.TrimRight(b.name, " ")
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if b.cat.IsReservedName(strings.TrimSpace(base)) {
		out = append(out, threat.NewFinding(threat.ReservedName, threat.High,
			fmt.Sprintf("%q is a reserved device name", strings.TrimSpace(base))))
	}

	if len(b.exts) >= 2 && !b.cat.IsCompoundName(b.name) {
		out = append(out, threat.NewFinding(threat.DoubleExtension, threat.Medium,
			fmt.Sprintf("file name has %d extensions", len(b.exts)), threat.WithFragment(b.name)))
	}

	if strings.HasSuffix(raw, ".") || strings.HasSuffix(raw, " ") {
		out = append(out, threat.NewFinding(threat.InvalidFilename, threat.Medium,
			"file name ends with a dot or space"))
	}
	if b.name != strings.TrimFunc(raw, unicode.IsSpace) && !strings.ContainsRune(raw, 0) {
		out = append(out, threat.NewFinding(threat.InvalidFilename, threat.Low,
			"file name changes under Unicode normalization", threat.WithFragment(raw)))
	}
	return out
}
