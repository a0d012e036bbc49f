package scanner

import (
	"fmt"

	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

// keywordRuleName labels findings from the dangerous-keyword set.
const keywordRuleName = "dangerous-keywords"

// TextScanner matches free text against the catalog's text rules for the
// subject's context, then peels URL and HTML encoding layers and matches
// again.
type TextScanner struct {
	limits Limits
}

// NewTextScanner creates a text scanner. Only DecodeDepth is used.
func NewTextScanner(l Limits) *TextScanner {
	return &TextScanner{limits: l.withDefaults()}
}

// Scan inspects subject against cat. Each rule is reported at most once,
// at the shallowest layer where it matches. Matches that only appear after
// decoding are reported as EncodedPayload.
func (s *TextScanner) Scan(subject TextSubject, cat *rules.Catalog) []threat.Finding {
	ts := &textScan{
		cat:  cat,
		ctx:  subject.Context,
		seen: make(map[string]bool),
	}
	var out []threat.Finding

	layer := rules.NormalizeText(subject.Content)
	out = guard("text rules", out, func() []threat.Finding { return ts.matchLayer(layer, 0) })

	reportedMalformed := false
	for depth := 1; depth <= s.limits.DecodeDepth; depth++ {
		decoded, malformed := decodeLayer(layer)
		if malformed && !reportedMalformed {
			reportedMalformed = true
			out = append(out, threat.NewFinding(threat.RuleEvaluationError, threat.Medium,
				fmt.Sprintf("malformed percent-encoding at decoding layer %d", depth)))
		}
		if decoded == layer {
			break
		}
		layer = decoded
		d := depth
		out = guard("text rules", out, func() []threat.Finding { return ts.matchLayer(layer, d) })
	}
	return out
}

type textScan struct {
	cat  *rules.Catalog
	ctx  types.ContextTag
	seen map[string]bool
}

func (ts *textScan) matchLayer(layer string, depth int) []threat.Finding {
	var out []threat.Finding
	for _, r := range ts.cat.TextRulesFor(ts.ctx) {
		if ts.seen[r.Name] {
			continue
		}
		loc := r.Regex.FindStringIndex(layer)
		if loc == nil {
			continue
		}
		ts.seen[r.Name] = true
		detail := r.Description
		if detail == "" {
			detail = r.Name
		}
		out = append(out, ts.finding(r.Kind, r.Severity, r.Name, detail, layer, loc, depth))
	}

	if re := ts.cat.KeywordMatcher(ts.ctx); re != nil && !ts.seen[keywordRuleName] {
		if loc := re.FindStringIndex(layer); loc != nil {
			ts.seen[keywordRuleName] = true
			out = append(out, ts.finding(threat.DangerousKeyword, threat.Critical, keywordRuleName,
				fmt.Sprintf("dangerous SQL keyword %q", layer[loc[0]:loc[1]]), layer, loc, depth))
		}
	}
	return out
}

func (ts *textScan) finding(kind threat.RuleKind, sev threat.Severity, rule, detail, layer string, loc []int, depth int) threat.Finding {
	opts := []threat.FindingOption{
		threat.WithOffset(int64(loc[0])),
		threat.WithFragment(layer[loc[0]:loc[1]]),
		threat.WithRule(rule),
	}
	if depth == 0 {
		return threat.NewFinding(kind, sev, detail, opts...)
	}
	return threat.NewFinding(threat.EncodedPayload, threat.Max(threat.High, threat.Escalate(sev)),
		fmt.Sprintf("%s (%s) after %d decoding layer(s): %s", kind, rule, depth, detail), opts...)
}
