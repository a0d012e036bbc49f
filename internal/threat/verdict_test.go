package threat

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

func findings(sevs ...Severity) []Finding {
	out := make([]Finding, len(sevs))
	for i, s := range sevs {
		out[i] = NewFinding(SqlKeyword, s, fmt.Sprintf("finding %d", i))
	}
	return out
}

func TestAggregateEmptyIsSafe(t *testing.T) {
	v := Aggregate(nil, DefaultRiskConfig())
	if !v.Safe || v.RiskScore != 0 || v.Severity != None {
		t.Errorf("empty verdict = %+v", v)
	}
	if v.Findings == nil {
		t.Error("Findings should be an empty slice, not nil")
	}
}

func TestAggregateThresholds(t *testing.T) {
	tests := []struct {
		name     string
		sevs     []Severity
		wantSafe bool
		wantSev  Severity
		score    int
	}{
		{"single low", []Severity{Low}, true, Low, 5},
		{"two high stay safe", []Severity{High, High}, true, High, 50},
		{"three high flip", []Severity{High, High, High}, false, High, 75},
		{"one critical flips", []Severity{Critical}, false, Critical, 40},
		{"four medium flip", []Severity{Medium, Medium, Medium, Medium}, false, Medium, 60},
		{"score capped", []Severity{Critical, Critical, Critical}, false, Critical, 100},
		{"mixed", []Severity{Low, Medium, High}, true, High, 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Aggregate(findings(tt.sevs...), DefaultRiskConfig())
			if v.Safe != tt.wantSafe {
				t.Errorf("Safe = %v, want %v", v.Safe, tt.wantSafe)
			}
			if v.Severity != tt.wantSev {
				t.Errorf("Severity = %s, want %s", v.Severity, tt.wantSev)
			}
			if v.RiskScore != tt.score {
				t.Errorf("RiskScore = %d, want %d", v.RiskScore, tt.score)
			}
		})
	}
}

func TestAggregateDeterministic(t *testing.T) {
	in := findings(Low, High, Medium, Critical, Low)
	a := Aggregate(in, DefaultRiskConfig())
	b := Aggregate(in, DefaultRiskConfig())
	if !reflect.DeepEqual(a, b) {
		t.Errorf("verdicts differ:\n%+v\n%+v", a, b)
	}
	for i := range in {
		if a.Findings[i].Detail != in[i].Detail {
			t.Fatalf("finding order not preserved at %d", i)
		}
	}
}

func TestAggregateMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	sevs := AllSeverities()
	for iter := 0; iter < 500; iter++ {
		var in []Finding
		prev := Aggregate(in, DefaultRiskConfig())
		for step := 0; step < 8; step++ {
			in = append(in, NewFinding(HighEntropy, sevs[r.Intn(len(sevs))], "x"))
			next := Aggregate(in, DefaultRiskConfig())
			if next.RiskScore < prev.RiskScore {
				t.Fatalf("score decreased: %d -> %d", prev.RiskScore, next.RiskScore)
			}
			if next.Severity < prev.Severity {
				t.Fatalf("severity decreased: %s -> %s", prev.Severity, next.Severity)
			}
			if !prev.Safe && next.Safe {
				t.Fatalf("unsafe verdict became safe after adding a finding")
			}
			prev = next
		}
	}
}

func TestAggregateCriticalDominates(t *testing.T) {
	cfg := RiskConfig{MaxScore: 1000, Weights: map[Severity]int{Critical: 1}}
	v := Aggregate(findings(Low, Critical), cfg)
	if v.Safe {
		t.Error("a critical finding must make the verdict unsafe regardless of score")
	}
}

func TestAggregateCustomWeights(t *testing.T) {
	cfg := RiskConfig{MaxScore: 30, Weights: map[Severity]int{High: 30}}
	v := Aggregate(findings(High), cfg)
	if v.Safe || v.RiskScore != 30 {
		t.Errorf("verdict = %+v, want unsafe at 30", v)
	}
	// missing weights fall back to defaults
	v = Aggregate(findings(Low), cfg)
	if v.RiskScore != 5 {
		t.Errorf("RiskScore = %d, want default low weight 5", v.RiskScore)
	}
}

func TestVerdictRedacted(t *testing.T) {
	v := Aggregate([]Finding{NewFinding(ScriptTag, Critical, "script", WithFragment("<script>"))}, DefaultRiskConfig())
	r := v.Redacted()
	if r.Findings[0].Fragment != "" {
		t.Error("Redacted kept fragment")
	}
	if v.Findings[0].Fragment == "" {
		t.Error("Redacted mutated the original verdict")
	}
}

func TestVerdictJSON(t *testing.T) {
	v := Aggregate([]Finding{NewFinding(PathTraversal, High, "dot dot", WithOffset(3))}, DefaultRiskConfig())
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"severity":"high"`, `"kind":"PathTraversal"`, `"offset":3`, `"safe":true`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
}

func TestSeverityParseAndEscalate(t *testing.T) {
	for _, s := range AllSeverities() {
		got, err := ParseSeverity(strings.ToUpper(s.String()))
		if err != nil || got != s {
			t.Errorf("ParseSeverity(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseSeverity("severe"); err == nil {
		t.Error("expected error for unknown severity")
	}
	if Escalate(Medium) != High || Escalate(Critical) != Critical {
		t.Error("Escalate is wrong")
	}
}

func TestNewFinding(t *testing.T) {
	f := NewFinding(ExecutableSignature, None, "MZ header")
	if f.Severity != Critical {
		t.Errorf("invalid severity should fall back to baseline, got %s", f.Severity)
	}
	long := strings.Repeat("é", 200)
	f = NewFinding(ScriptTag, High, "x", WithFragment(long), WithRule("script-tag"), WithOffset(10))
	if n := len([]rune(f.Fragment)); n != MaxFragmentLen+1 {
		t.Errorf("fragment has %d runes, want %d", n, MaxFragmentLen+1)
	}
	if !strings.HasSuffix(f.Fragment, "…") {
		t.Error("truncated fragment should end with an ellipsis")
	}
	if f.Rule != "script-tag" || *f.Offset != 10 {
		t.Errorf("options not applied: %+v", f)
	}
	if got := TruncateFragment("a\xffb"); got != "a�b" {
		t.Errorf("TruncateFragment invalid utf8 = %q", got)
	}
}

func TestBaselineCoversKinds(t *testing.T) {
	for _, k := range AllKinds() {
		if !Baseline(k).Valid() {
			t.Errorf("kind %s has no valid baseline", k)
		}
	}
	if RuleKind("Nope").Known() {
		t.Error("unknown kind reported as known")
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrap: %w", InvalidInput("scan_text", "empty content"))
	if !IsInvalidInput(err) || IsCatalogUnavailable(err) {
		t.Errorf("kind detection wrong for %v", err)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is should match sentinel by kind")
	}
	cause := errors.New("no snapshot")
	err = CatalogUnavailable("scan_binary", cause)
	if !IsCatalogUnavailable(err) || !errors.Is(err, cause) {
		t.Errorf("catalog error not classified: %v", err)
	}
	if got := err.Error(); got != "scan_binary: rule catalog unavailable: no snapshot" {
		t.Errorf("Error() = %q", got)
	}
}
