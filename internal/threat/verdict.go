package threat

// Default risk parameters.
const (
	DefaultMaxScore = 60
	MaxRiskScore    = 100
)

// DefaultWeights maps each severity to its score contribution.
func DefaultWeights() map[Severity]int {
	return map[Severity]int{
		Critical: 40,
		High:     25,
		Medium:   15,
		Low:      5,
	}
}

// RiskConfig controls how findings are reduced to a verdict.
type RiskConfig struct {
	// MaxScore is the exclusive upper bound for a safe verdict.
	MaxScore int
	Weights  map[Severity]int
}

// DefaultRiskConfig returns the stock threshold and weights.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{MaxScore: DefaultMaxScore, Weights: DefaultWeights()}
}

func (c RiskConfig) weight(s Severity) int {
	if c.Weights != nil {
		if w, ok := c.Weights[s]; ok {
			return w
		}
	}
	return DefaultWeights()[s]
}

func (c RiskConfig) maxScore() int {
	if c.MaxScore <= 0 {
		return DefaultMaxScore
	}
	return c.MaxScore
}

// Verdict is the reduced outcome of one scan.
type Verdict struct {
	Safe           bool      `json:"safe"`
	Severity       Severity  `json:"severity"`
	RiskScore      int       `json:"risk_score"`
	Findings       []Finding `json:"findings"`
	CatalogVersion string    `json:"catalog_version,omitempty"`
}

// Aggregate reduces findings to a verdict. It is deterministic and total:
// the score is the capped sum of severity weights, the severity is the
// maximum finding severity, and the verdict is unsafe once any finding is
// Critical or the score reaches the threshold.
func Aggregate(findings []Finding, cfg RiskConfig) Verdict {
	v := Verdict{Findings: make([]Finding, len(findings))}
	copy(v.Findings, findings)

	score := 0
	for _, f := range findings {
		v.Severity = Max(v.Severity, f.Severity)
		if w := cfg.weight(f.Severity); w > 0 {
			score += w
		}
		if score > MaxRiskScore {
			score = MaxRiskScore
		}
	}
	v.RiskScore = score
	v.Safe = len(findings) == 0 || (v.Severity < Critical && score < cfg.maxScore())
	return v
}

// CountBySeverity tallies findings per severity.
func (v Verdict) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range v.Findings {
		counts[f.Severity]++
	}
	return counts
}

// HasKind reports whether any finding is of kind k.
func (v Verdict) HasKind(k RuleKind) bool {
	for _, f := range v.Findings {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// Redacted returns a copy with matched fragments removed, for responses
// that leave the service boundary.
func (v Verdict) Redacted() Verdict {
	out := v
	out.Findings = make([]Finding, len(v.Findings))
	for i, f := range v.Findings {
		out.Findings[i] = f.Redacted()
	}
	return out
}
