package scanner

import (
	"fmt"
	"slices"

	"github.com/pulseboard/sentinel/internal/threat"
)

func (b *binaryScan) checkMediaType() []threat.Finding {
	if len(b.exts) == 0 {
		return []threat.Finding{threat.NewFinding(threat.InvalidFilename, threat.Medium,
			"file name has no extension")}
	}

	var out []threat.Finding
	ext := b.exts[len(b.exts)-1]
	cat := b.subject.Category

	for _, inner := range b.exts[:len(b.exts)-1] {
		if b.cat.IsExecutableExtension(inner) {
			out = append(out, threat.NewFinding(threat.DoubleExtension, threat.Critical,
				fmt.Sprintf("executable extension .%s hidden before .%s", inner, ext)))
			break
		}
	}

	mts := b.cat.MediaTypesForExtension(ext)
	switch {
	case b.cat.IsExecutableExtension(ext):
		out = append(out, threat.NewFinding(threat.DangerousExtension, threat.Critical,
			fmt.Sprintf("extension .%s is executable", ext)))
	case len(mts) == 0:
		out = append(out, threat.NewFinding(threat.DangerousExtension, threat.High,
			fmt.Sprintf("extension .%s is not recognised", ext)))
	case !slices.ContainsFunc(mts, func(mt string) bool { return b.cat.CategoryAllows(cat, mt) }):
		out = append(out, threat.NewFinding(threat.DangerousExtension, threat.High,
			fmt.Sprintf("extension .%s is not allowed for %s uploads", ext, cat)))
	}

	declared := b.subject.DeclaredMediaType
	if declared == "" {
		return out
	}
	if len(mts) > 0 && !slices.Contains(mts, b.mediaType) {
		out = append(out, threat.NewFinding(threat.MediaTypeMismatch, threat.Medium,
			fmt.Sprintf("declared type %s does not match extension .%s", b.mediaType, ext)))
	}
	if !b.cat.CategoryAllows(cat, b.mediaType) {
		out = append(out, threat.NewFinding(threat.MediaTypeMismatch, threat.High,
			fmt.Sprintf("declared type %s is not allowed for %s uploads", b.mediaType, cat)))
	}
	return out
}
