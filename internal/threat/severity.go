// Package threat holds the data model shared by every scanner: severities,
// rule kinds, findings, verdicts and the risk aggregator.
//
// Nothing in this package performs I/O or logging. All functions are pure
// and safe for concurrent use.
package threat

import (
	"fmt"
	"strings"
)

// Severity is an ordered threat level. The zero value None only appears on
// verdicts without findings.
type Severity int

const (
	None Severity = iota
	Low
	Medium
	High
	Critical
)

// AllSeverities returns the finding severities, lowest first.
func AllSeverities() []Severity {
	return []Severity{Low, Medium, High, Critical}
}

func (s Severity) String() string {
	switch s {
	case None:
		return "none"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is one of the finding severities (None excluded).
func (s Severity) Valid() bool {
	return s >= Low && s <= Critical
}

// ParseSeverity converts a catalog/config string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return None, nil
	case "low":
		return Low, nil
	case "medium", "med":
		return Medium, nil
	case "high":
		return High, nil
	case "critical", "crit":
		return Critical, nil
	}
	return None, fmt.Errorf("unknown severity %q (valid: low, medium, high, critical)", s)
}

// MarshalText implements encoding.TextMarshaler so severities travel as
// names in JSON and YAML.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Max returns the higher of a and b.
func Max(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// Escalate raises s by one tier. Critical stays Critical.
func Escalate(s Severity) Severity {
	if s >= Critical {
		return Critical
	}
	return s + 1
}
