package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/tui"
)

// LintSeverity represents the severity of a lint issue.
type LintSeverity string

// Lint severity levels (distinct from finding Severity).
const (
	LintError   LintSeverity = "error"
	LintWarning LintSeverity = "warning"
	LintInfo    LintSeverity = "info"
)

// LintIssue represents a problem found in a catalog file.
type LintIssue struct {
	File     string       `json:"file"`
	RuleName string       `json:"rule"`
	Field    string       `json:"field"`
	Severity LintSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// LintResult contains all issues found during linting.
type LintResult struct {
	Issues []LintIssue `json:"issues"`
	Errors int         `json:"errors"`
	Warns  int         `json:"warnings"`
}

func (r *LintResult) add(issue LintIssue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case LintError:
		r.Errors++
	case LintWarning:
		r.Warns++
	case LintInfo:
	}
}

// Linter checks catalog files for mistakes the schema validation accepts:
// patterns that match everything, shadowed rules, unreachable mappings.
type Linter struct{}

// NewLinter creates a new catalog linter.
func NewLinter() *Linter {
	return &Linter{}
}

// LintFiles lints a set of files as they would be merged.
func (l *Linter) LintFiles(files []SourceFile) LintResult {
	var result LintResult
	seenText := make(map[string]string)
	seenContent := make(map[string]string)

	for _, sf := range files {
		for _, r := range sf.File.TextRules {
			if prev, ok := seenText[r.Name]; ok && prev != sf.Path {
				result.add(LintIssue{File: sf.Path, RuleName: r.Name, Field: "name", Severity: LintInfo,
					Message: fmt.Sprintf("overrides rule from %s", prev)})
			}
			seenText[r.Name] = sf.Path
			l.lintTextRule(sf.Path, r, &result)
		}
		for _, r := range sf.File.ContentRules {
			if prev, ok := seenContent[r.Name]; ok && prev != sf.Path {
				result.add(LintIssue{File: sf.Path, RuleName: r.Name, Field: "name", Severity: LintInfo,
					Message: fmt.Sprintf("overrides content rule from %s", prev)})
			}
			seenContent[r.Name] = sf.Path
			l.lintContentRule(sf.Path, r, &result)
		}
		for i, s := range sf.File.Signatures {
			for j, raw := range s.Patterns {
				p, err := ParseBytePattern(raw, s.Offset)
				field := fmt.Sprintf("signatures[%d].patterns[%d]", i, j)
				if err != nil {
					result.add(LintIssue{File: sf.Path, RuleName: s.MediaType, Field: field, Severity: LintError, Message: err.Error()})
					continue
				}
				if p.Offset+p.Len() > 16 {
					result.add(LintIssue{File: sf.Path, RuleName: s.MediaType, Field: field, Severity: LintError,
						Message: "pattern extends past the 16-byte signature window"})
				}
				if fixedBytes(p) < 2 {
					result.add(LintIssue{File: sf.Path, RuleName: s.MediaType, Field: field, Severity: LintWarning,
						Message: "pattern has fewer than two fixed bytes"})
				}
			}
		}
		for _, e := range sf.File.Executables {
			if !enabled(e.Enabled) {
				continue
			}
			if _, err := compileExecutable(e); err != nil {
				result.add(LintIssue{File: sf.Path, RuleName: e.Name, Field: "pattern", Severity: LintError, Message: err.Error()})
			}
		}
		if kw := sf.File.Keywords; kw != nil {
			seen := make(map[string]bool)
			for i, w := range kw.Words {
				key := strings.ToLower(w)
				if seen[key] {
					result.add(LintIssue{File: sf.Path, RuleName: "dangerous_keywords", Field: fmt.Sprintf("words[%d]", i),
						Severity: LintWarning, Message: fmt.Sprintf("duplicate keyword %q", w)})
				}
				seen[key] = true
			}
		}
	}

	if _, err := Compile(files); err != nil {
		result.add(LintIssue{File: "(merged)", RuleName: "(catalog)", Field: "compile", Severity: LintError, Message: err.Error()})
	}
	return result
}

func fixedBytes(p BytePattern) int {
	n := 0
	for _, m := range p.Mask {
		if m {
			n++
		}
	}
	return n
}

func (l *Linter) lintTextRule(file string, r TextRuleConfig, result *LintResult) {
	if !enabled(r.Enabled) {
		return
	}
	re, err := compileRegex(r.Pattern)
	if err != nil {
		result.add(LintIssue{File: file, RuleName: r.Name, Field: "pattern", Severity: LintError, Message: err.Error()})
		return
	}
	if re.MatchString("") {
		result.add(LintIssue{File: file, RuleName: r.Name, Field: "pattern", Severity: LintError,
			Message: "pattern matches the empty string and would flag every input"})
	}
	if r.Description == "" {
		result.add(LintIssue{File: file, RuleName: r.Name, Field: "description", Severity: LintWarning,
			Message: "description is empty; findings will only carry the rule name"})
	}
	if r.Severity != "" {
		sev, _ := threat.ParseSeverity(r.Severity)
		if base := threat.Baseline(threat.RuleKind(r.Kind)); sev < base {
			result.add(LintIssue{File: file, RuleName: r.Name, Field: "severity", Severity: LintInfo,
				Message: fmt.Sprintf("severity %s is below the %s baseline %s", sev, r.Kind, base)})
		}
	}
}

func (l *Linter) lintContentRule(file string, r ContentRuleConfig, result *LintResult) {
	if !enabled(r.Enabled) {
		return
	}
	re, err := compileRegex(r.Pattern)
	if err != nil {
		result.add(LintIssue{File: file, RuleName: r.Name, Field: "pattern", Severity: LintError, Message: err.Error()})
		return
	}
	if re.MatchString("") {
		result.add(LintIssue{File: file, RuleName: r.Name, Field: "pattern", Severity: LintError,
			Message: "pattern matches the empty string and would flag every upload"})
	}
	if len(r.Pattern) < 6 {
		result.add(LintIssue{File: file, RuleName: r.Name, Field: "pattern", Severity: LintWarning,
			Message: "very short content pattern will match random binary data"})
	}
}

// LintFile lints one file merged on top of the builtin catalog.
func (l *Linter) LintFile(path string) (LintResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LintResult{}, fmt.Errorf("failed to read file: %w", err)
	}
	sf, err := ParseCatalogFile(data, path, SourceCLI)
	if err != nil {
		return LintResult{}, fmt.Errorf("validation error: %w", err)
	}
	builtin, err := NewLoader("").LoadBuiltin()
	if err != nil {
		return LintResult{}, err
	}
	result := l.LintFiles(append(builtin, sf))
	return result.onlyFile(path), nil
}

// onlyFile keeps issues raised against path or the merged catalog.
func (r LintResult) onlyFile(path string) LintResult {
	var out LintResult
	for _, issue := range r.Issues {
		if issue.File == path || issue.File == "(merged)" {
			out.add(issue)
		}
	}
	return out
}

// LintBuiltin lints the builtin catalog.
func (l *Linter) LintBuiltin() (LintResult, error) {
	files, err := NewLoader("").LoadBuiltin()
	if err != nil {
		return LintResult{}, fmt.Errorf("failed to load builtin catalog: %w", err)
	}
	return l.LintFiles(files), nil
}

// FormatIssues returns a human-readable string of all issues.
func (r LintResult) FormatIssues(showInfo bool) string {
	if len(r.Issues) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, issue := range r.Issues {
		if issue.Severity == LintInfo && !showInfo {
			continue
		}

		if tui.IsPlainMode() {
			var icon string
			switch issue.Severity {
			case LintError:
				icon = "X"
			case LintWarning:
				icon = "!"
			default:
				icon = "i"
			}
			fmt.Fprintf(&sb, "  %s [%s] %s %s: %s - %s\n",
				icon, issue.Severity, issue.File, issue.RuleName, issue.Field, issue.Message)
			continue
		}

		var icon string
		switch issue.Severity {
		case LintError:
			icon = tui.StyleError.Render(tui.IconCross)
		case LintWarning:
			icon = tui.StyleWarning.Render(tui.IconWarning)
		default:
			icon = tui.StyleInfo.Render(tui.IconInfo)
		}
		fmt.Fprintf(&sb, "  %s %s %s %s: %s - %s\n",
			icon, tui.LintBadge(string(issue.Severity)), tui.StyleMuted.Render(issue.File),
			tui.StyleBold.Render(issue.RuleName), issue.Field, issue.Message)
	}

	return sb.String()
}
