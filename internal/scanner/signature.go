package scanner

import (
	"encoding/hex"
	"fmt"

	"github.com/pulseboard/sentinel/internal/threat"
)

func (b *binaryScan) head() []byte {
	data := b.subject.Bytes
	if len(data) > b.limits.HeaderRegion {
		return data[:b.limits.HeaderRegion]
	}
	return data
}

func (b *binaryScan) checkSignature() []threat.Finding {
	head := b.head()
	if len(head) == 0 {
		return nil
	}
	var out []threat.Finding

	if pats := b.cat.SignaturesFor(b.mediaType); len(pats) > 0 {
		matched := false
		for _, p := range pats {
			if p.Match(head) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, threat.NewFinding(threat.SignatureMismatch, threat.High,
				fmt.Sprintf("content does not start with a %s signature", b.mediaType),
				threat.WithOffset(0), threat.WithFragment(hexFragment(head))))
		}
	}

	for _, sig := range b.cat.Executables() {
		if sig.AllowedFor(b.mediaType) || !sig.Pattern.Match(head) {
			continue
		}
		detail := sig.Description
		if detail == "" {
			detail = fmt.Sprintf("%s signature", sig.Name)
		}
		out = append(out, threat.NewFinding(sig.Kind, sig.Severity, detail,
			threat.WithOffset(int64(sig.Pattern.Offset)), threat.WithRule(sig.Name),
			threat.WithFragment(hexFragment(head))))
	}

	if f, ok := checkShebang(b.prefix); ok {
		out = append(out, f)
	}
	return out
}

// hexFragment renders bytes as space-separated hex pairs.
func hexFragment(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	s := hex.EncodeToString(data)
	buf := make([]byte, 0, len(s)+len(data))
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, s[i], s[i+1])
	}
	return string(buf)
}
