package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/tui/terminal"
)

// These tests modify global state (plainMode) and must not run in parallel.

func enablePlainMode(t *testing.T) {
	t.Helper()
	SetPlainMode(true)
	t.Cleanup(func() { SetPlainMode(false) })
}

func TestHasCapability_PlainMode(t *testing.T) {
	enablePlainMode(t)

	for _, c := range []terminal.Capability{terminal.CapTruecolor, terminal.CapHyperlinks, terminal.CapFaint} {
		if hasCapability(c) {
			t.Errorf("hasCapability(%d) should return false in plain mode", c)
		}
	}
	if got := Faint("hello"); got != "hello" {
		t.Errorf("Faint in plain mode = %q", got)
	}
	if got := Hyperlink("https://example.com", "click"); got != "click" {
		t.Errorf("Hyperlink in plain mode = %q", got)
	}
}

func TestPrefix_PlainMode(t *testing.T) {
	enablePlainMode(t)
	if got := Prefix(); got != "[sentinel]" {
		t.Errorf("Prefix() = %q", got)
	}
}

func TestSeverityBadge_PlainMode(t *testing.T) {
	enablePlainMode(t)

	tests := []struct {
		severity threat.Severity
		want     string
	}{
		{threat.Critical, "[CRITICAL]"},
		{threat.High, "[HIGH]"},
		{threat.Medium, "[MEDIUM]"},
		{threat.Low, "[LOW]"},
		{threat.None, "[NONE]"},
	}
	for _, tt := range tests {
		if got := SeverityBadge(tt.severity); got != tt.want {
			t.Errorf("SeverityBadge(%s) = %q, want %q", tt.severity, got, tt.want)
		}
	}
	if got := LintBadge("warning"); got != "[WARNING]" {
		t.Errorf("LintBadge = %q", got)
	}
}

func TestSeverityStyle_MapsCorrectly(t *testing.T) {
	tests := []struct {
		severity threat.Severity
		want     string
	}{
		{threat.Critical, StyleCritical.Render("x")},
		{threat.High, StyleHigh.Render("x")},
		{threat.Medium, StyleWarning.Render("x")},
		{threat.Low, StyleInfo.Render("x")},
		{threat.None, StyleMuted.Render("x")},
	}
	for _, tt := range tests {
		if got := SeverityStyle(tt.severity).Render("x"); got != tt.want {
			t.Errorf("SeverityStyle(%s) returned wrong style", tt.severity)
		}
	}
}

func TestSeparator_PlainMode(t *testing.T) {
	enablePlainMode(t)
	if got := Separator(""); got != "---" {
		t.Errorf("Separator(\"\") = %q", got)
	}
	if got := Separator("Catalog"); got != "--- Catalog ---" {
		t.Errorf("Separator(\"Catalog\") = %q", got)
	}
}

func TestSetPlainMode_Overrides(t *testing.T) {
	SetPlainMode(true)
	if !IsPlainMode() {
		t.Error("IsPlainMode() should be true after SetPlainMode(true)")
	}
	SetPlainMode(false)
	if IsPlainMode() {
		t.Error("IsPlainMode() should be false after SetPlainMode(false)")
	}
}

func TestPrintHelpers_PlainMode(t *testing.T) {
	enablePlainMode(t)
	var out, errOut bytes.Buffer
	oldOut, oldErr := Stdout, Stderr
	Stdout, Stderr = &out, &errOut
	t.Cleanup(func() { Stdout, Stderr = oldOut, oldErr })

	PrintSuccess("reloaded")
	PrintWarning("stale")
	PrintInfo("hello")
	PrintError("boom")

	want := "[sentinel] OK: reloaded\n[sentinel] WARNING: stale\n[sentinel] hello\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
	if errOut.String() != "[sentinel] ERROR: boom\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestAlignColumns(t *testing.T) {
	enablePlainMode(t)
	got := AlignColumns([][2]string{{"a", "1"}, {"long", "2"}}, "> ", 1, StylePlain, StylePlain)
	want := "> a    1\n> long 2\n"
	if got != want {
		t.Errorf("AlignColumns = %q, want %q", got, want)
	}
	if AlignColumns(nil, "", 1, StylePlain, StylePlain) != "" {
		t.Error("empty rows should render nothing")
	}
}

func TestRenderVerdict_PlainMode(t *testing.T) {
	enablePlainMode(t)

	v := threat.Aggregate([]threat.Finding{
		threat.NewFinding(threat.BooleanInjection, threat.Critical, "tautology",
			threat.WithRule("sql-quote-tautology"), threat.WithOffset(3), threat.WithFragment("' OR '1'='1")),
	}, threat.DefaultRiskConfig())
	v.CatalogVersion = "2026.10.1+abc"

	out := RenderVerdict(v, false)
	for _, want := range []string{"UNSAFE", "severity=critical", "[CRITICAL]", "BooleanInjection", "sql-quote-tautology", "offset", "catalog 2026.10.1+abc"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "OR '1'") {
		t.Error("fragment printed without showFragments")
	}
	if !strings.Contains(RenderVerdict(v, true), "fragment") {
		t.Error("fragment missing with showFragments")
	}

	safe := RenderVerdict(threat.Aggregate(nil, threat.DefaultRiskConfig()), false)
	if !strings.HasPrefix(safe, "[sentinel] SAFE") {
		t.Errorf("safe verdict = %q", safe)
	}
}

func TestGenerateGradient(t *testing.T) {
	g := GenerateGradient("#000000", "#FFFFFF", 3)
	if len(g) != 3 || g[0] != "#000000" || g[2] != "#FFFFFF" {
		t.Errorf("GenerateGradient = %v", g)
	}
	if r, _, _ := HexToRGB("#zz0000"); r != 0 {
		t.Error("malformed hex should yield black")
	}
	if len(GenerateGradient("#000000", "#FFFFFF", 0)) != 0 {
		t.Error("n=0 should be empty")
	}
}
