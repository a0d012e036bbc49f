package scanner

import (
	"fmt"

	"github.com/pulseboard/sentinel/internal/threat"
)

// checkContent runs the catalog's content rules over the scan prefix.
// Offsets are byte offsets into the upload; regexp treats invalid UTF-8
// as U+FFFD so binary data needs no conversion.
func (b *binaryScan) checkContent() []threat.Finding {
	if len(b.prefix) == 0 {
		return nil
	}
	var out []threat.Finding
	for _, r := range b.cat.ContentRules() {
		loc := r.Regex.FindIndex(b.prefix)
		if loc == nil {
			continue
		}
		detail := r.Description
		if detail == "" {
			detail = fmt.Sprintf("content matches %s", r.Name)
		}
		out = append(out, threat.NewFinding(threat.MaliciousContent, r.Severity, detail,
			threat.WithOffset(int64(loc[0])), threat.WithRule(r.Name),
			threat.WithFragment(string(b.prefix[loc[0]:loc[1]]))))
	}
	return out
}
