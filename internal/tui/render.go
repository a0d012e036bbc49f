package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pulseboard/sentinel/internal/threat"
)

// RenderVerdict formats a verdict for the terminal: a one-line summary
// followed by one block per finding. Fragments are printed only when
// showFragments is set.
func RenderVerdict(v threat.Verdict, showFragments bool) string {
	var sb strings.Builder

	status := "SAFE"
	if !v.Safe {
		status = "UNSAFE"
	}
	if IsPlainMode() {
		fmt.Fprintf(&sb, "%s %s severity=%s score=%d findings=%d\n",
			brand, status, v.Severity, v.RiskScore, len(v.Findings))
	} else {
		icon, style := IconCheck, StyleSuccess
		if !v.Safe {
			icon, style = IconCross, StyleError
		}
		fmt.Fprintf(&sb, "%s %s %s  %s\n", Prefix(), style.Render(icon), StyleBold.Render(status),
			StyleMuted.Render(fmt.Sprintf("severity %s, score %d/%d, %d findings",
				v.Severity, v.RiskScore, threat.MaxRiskScore, len(v.Findings))))
	}

	for _, f := range v.Findings {
		fmt.Fprintf(&sb, "  %s %s %s\n", SeverityBadge(f.Severity), StyleBold.Render(string(f.Kind)), f.Detail)

		var rows [][2]string
		if f.Rule != "" {
			rows = append(rows, [2]string{"rule", f.Rule})
		}
		if f.Offset != nil {
			rows = append(rows, [2]string{"offset", strconv.FormatInt(*f.Offset, 10)})
		}
		if showFragments && f.Fragment != "" {
			rows = append(rows, [2]string{"fragment", strconv.Quote(f.Fragment)})
		}
		sb.WriteString(AlignColumns(rows, "      ", 1, StyleMuted, StyleMuted))
	}

	if v.CatalogVersion != "" {
		sb.WriteString(Faint(fmt.Sprintf("  catalog %s\n", v.CatalogVersion)))
	}
	return sb.String()
}

// RenderKeyValues formats label/value pairs as an aligned block.
func RenderKeyValues(title string, rows [][2]string) string {
	var sb strings.Builder
	sb.WriteString(Separator(title))
	sb.WriteByte('\n')
	sb.WriteString(AlignColumns(rows, "  ", 2, StyleBold, StylePlain))
	return sb.String()
}
