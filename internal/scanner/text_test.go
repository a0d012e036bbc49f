package scanner

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

func scanText(t testing.TB, content string, ctx types.ContextTag) []threat.Finding {
	t.Helper()
	return NewTextScanner(DefaultLimits()).Scan(TextSubject{Content: content, Context: ctx}, builtinCatalog(t))
}

func TestTextScan_Detects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ctx     types.ContextTag
		kind    threat.RuleKind
		sev     threat.Severity
	}{
		{"numeric tautology", "1 OR 1=1", types.ContextSQLWhere, threat.BooleanInjection, threat.Critical},
		{"quote tautology", "' OR '1'='1", types.ContextSQLWhere, threat.BooleanInjection, threat.Critical},
		{"generic tautology", "x' or 1=1", types.ContextGeneric, threat.BooleanInjection, threat.High},
		{"union", "1 UNION SELECT password FROM users", types.ContextGeneric, threat.UnionInjection, threat.Critical},
		{"union with comment", "1 UNION/**/SELECT 1", types.ContextSQLWhere, threat.UnionInjection, threat.Critical},
		{"time delay", "1 AND SLEEP(5)", types.ContextSQLWhere, threat.TimeBasedInjection, threat.Critical},
		{"waitfor", "1; WAITFOR DELAY '0:0:5'", types.ContextSQLWhere, threat.TimeBasedInjection, threat.Critical},
		{"stacked", "id; DROP TABLE users", types.ContextSQLWhere, threat.StackedQuery, threat.High},
		{"comment", "admin'--", types.ContextSQLWhere, threat.SqlComment, threat.High},
		{"system objects", "1 AND (SELECT count(*) FROM information_schema.tables)", types.ContextSQLWhere, threat.SystemObjectReference, threat.High},
		{"dangerous keyword", "1; EXEC xp_cmdshell 'dir'", types.ContextSQLWhere, threat.DangerousKeyword, threat.Critical},
		{"dangerous procedure generic", "call xp_cmdshell now", types.ContextGeneric, threat.DangerousKeyword, threat.Critical},
		{"script tag", "<script>alert(1)</script>", types.ContextHTMLBody, threat.ScriptTag, threat.Critical},
		{"spaced script tag", "< script >", types.ContextHTMLBody, threat.ScriptTag, threat.Critical},
		{"iframe", `<iframe src="//evil">`, types.ContextHTMLBody, threat.ScriptTag, threat.High},
		{"event handler", "<img src=x onerror=alert(1)>", types.ContextHTMLBody, threat.EventHandlerAttribute, threat.High},
		{"protocol", "javascript:alert(1)", types.ContextHTMLAttribute, threat.ProtocolHandler, threat.High},
		{"data html", "data:text/html;base64,PHNjcmlwdD4=", types.ContextHTMLAttribute, threat.ProtocolHandler, threat.High},
		{"css expression", "width: expression(alert(1))", types.ContextHTMLBody, threat.StyleInjection, threat.High},
		{"template", "{{7*7}}", types.ContextGeneric, threat.TemplateInjection, threat.Medium},
		{"limit violation", "10 OFFSET 5", types.ContextSQLLimit, threat.ContextViolation, threat.High},
		{"order by paren", "name, (select 1)", types.ContextSQLOrderBy, threat.ContextViolation, threat.High},
		{"order by keyword", "name and 1", types.ContextSQLOrderBy, threat.ContextViolation, threat.High},
		{"attribute breakout", `x" autofocus="`, types.ContextHTMLAttribute, threat.ContextViolation, threat.High},
		{"fullwidth script", "\uff1cscript\uff1e", types.ContextHTMLBody, threat.ScriptTag, threat.Critical},
		{"zero width split", "<scr\u200bipt>", types.ContextHTMLBody, threat.ScriptTag, threat.Critical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := worst(scanText(t, tt.content, tt.ctx))
			if got[tt.kind] < tt.sev {
				t.Errorf("%q in %s: want %s >= %s, got %v", tt.content, tt.ctx, tt.kind, tt.sev, got)
			}
		})
	}
}

func TestTextScan_Benign(t *testing.T) {
	tests := []struct {
		content string
		ctx     types.ContextTag
	}{
		{"hello world", types.ContextGeneric},
		{"hello world", types.ContextSQLWhere},
		{"hello world", types.ContextHTMLBody},
		{"Bake sale on Friday & Saturday, 10am-2pm", types.ContextHTMLBody},
		{"Tom & Jerry &amp; friends", types.ContextHTMLBody},
		{"We sold 100% of the tickets", types.ContextGeneric},
		{"Please select a date from the calendar", types.ContextHTMLBody},
		{"created_at DESC, title ASC", types.ContextSQLOrderBy},
		{"20, 40", types.ContextSQLLimit},
		{"Lost cat, answers to Whiskers", types.ContextHTMLAttribute},
		{"The executive committee meets on Monday", types.ContextSQLWhere},
	}
	for _, tt := range tests {
		if got := scanText(t, tt.content, tt.ctx); len(got) != 0 {
			t.Errorf("%q in %s: unexpected findings %v", tt.content, tt.ctx, got)
		}
	}
}

func TestTextScan_EncodedPayload(t *testing.T) {
	tests := []struct {
		name    string
		content string
		rule    string
	}{
		{"url encoded", "%3Cscript%3Ealert(1)%3C/script%3E", "script-tag"},
		{"double encoded", "%253Cscript%253E", "script-tag"},
		{"entity encoded", "&lt;script&gt;", "script-tag"},
		{"numeric entity", "&#60;iframe src=x&#62;", "active-content-tag"},
		{"hex entity", "&#x6a;avascript:alert(1)", "script-protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := scanText(t, tt.content, types.ContextHTMLBody)
			f, ok := findRule(findings, tt.rule)
			if !ok {
				t.Fatalf("rule %s not reported: %v", tt.rule, findings)
			}
			if f.Kind != threat.EncodedPayload {
				t.Errorf("kind = %s, want EncodedPayload", f.Kind)
			}
			if f.Severity < threat.High {
				t.Errorf("severity = %s, want >= high", f.Severity)
			}
			if !strings.Contains(f.Detail, tt.rule) {
				t.Errorf("detail %q does not name the rule", f.Detail)
			}
		})
	}
}

func TestTextScan_EncodedSeverityEscalates(t *testing.T) {
	// js-sink is Medium in plain text
	findings := scanText(t, "%61lert%281%29", types.ContextHTMLBody)
	f, ok := findRule(findings, "js-sink")
	if !ok || f.Kind != threat.EncodedPayload || f.Severity != threat.High {
		t.Errorf("encoded js-sink: %v", findings)
	}
}

func TestTextScan_NoReReport(t *testing.T) {
	findings := scanText(t, "<script>%3Cscript%3E", types.ContextHTMLBody)
	n := 0
	for _, f := range findings {
		if f.Rule == "script-tag" {
			n++
			if f.Kind != threat.ScriptTag {
				t.Errorf("plain match reported as %s", f.Kind)
			}
		}
	}
	if n != 1 {
		t.Errorf("script-tag reported %d times: %v", n, findings)
	}
}

func TestTextScan_DecodeDepthBound(t *testing.T) {
	triple := "%25253Cscript%25253E"
	l := DefaultLimits()
	if _, ok := findRule(NewTextScanner(l).Scan(TextSubject{Content: triple, Context: types.ContextHTMLBody}, builtinCatalog(t)), "script-tag"); ok {
		t.Error("three layers decoded with depth 2")
	}
	l.DecodeDepth = 3
	if _, ok := findRule(NewTextScanner(l).Scan(TextSubject{Content: triple, Context: types.ContextHTMLBody}, builtinCatalog(t)), "script-tag"); !ok {
		t.Error("three layers not decoded with depth 3")
	}
	l.DecodeDepth = 0
	if got := NewTextScanner(l).Scan(TextSubject{Content: "%3Cscript%3E", Context: types.ContextHTMLBody}, builtinCatalog(t)); len(got) != 0 {
		t.Errorf("depth 0 decoded: %v", got)
	}
}

func TestTextScan_MalformedEscape(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  threat.Severity
	}{
		{"truncated beside real escapes", "price%2 off %3Cb%3Enow%3C/b%3E", threat.Medium},
		{"trailing truncated escape", "q=%3Cx%3E%2", threat.Medium},
		{"percent before a word", "20%Discount on all items", threat.None},
		{"percent before a letter", "grew 10%d over the quarter", threat.None},
		{"bare percent", "100% sure", threat.None},
		{"well formed only", "a%20b%2Cc", threat.None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := worst(scanText(t, tt.input, types.ContextGeneric))
			if got[threat.RuleEvaluationError] != tt.want {
				t.Errorf("%q: RuleEvaluationError = %s, want %s (%v)", tt.input, got[threat.RuleEvaluationError], tt.want, got)
			}
		})
	}
}

func TestTextScan_FragmentCapped(t *testing.T) {
	long := "<script>" + strings.Repeat("a", 500) + "</script>"
	for _, f := range scanText(t, "{{"+long+"}}", types.ContextHTMLBody) {
		if utf8.RuneCountInString(f.Fragment) > threat.MaxFragmentLen+1 {
			t.Errorf("fragment for %s is %d runes", f.Rule, utf8.RuneCountInString(f.Fragment))
		}
	}
}

func TestTextScan_Deterministic(t *testing.T) {
	in := "1' UNION SELECT %3Cscript%3E -- {{x}}"
	first := scanText(t, in, types.ContextGeneric)
	for i := 0; i < 5; i++ {
		if got := scanText(t, in, types.ContextGeneric); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestTextSubjectValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject TextSubject
		wantErr bool
	}{
		{"ok", TextSubject{Content: "hi", Context: types.ContextGeneric}, false},
		{"empty", TextSubject{Content: "", Context: types.ContextGeneric}, true},
		{"bad utf8", TextSubject{Content: "a\xffb", Context: types.ContextGeneric}, true},
		{"unknown context", TextSubject{Content: "hi", Context: "json"}, true},
	}
	for _, tt := range tests {
		err := tt.subject.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !threat.IsInvalidInput(err) {
			t.Errorf("%s: not an invalid-input error: %v", tt.name, err)
		}
	}
}

func TestURLDecodeLenient(t *testing.T) {
	tests := []struct{ in, want string }{
		{"%3Cb%3E", "<b>"},
		{"a+b", "a b"},
		{"100%", "100%"},
		{"%zz%4", "%zz%4"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := urlDecodeLenient(tt.in); got != tt.want {
			t.Errorf("urlDecodeLenient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func FuzzTextScan(f *testing.F) {
	for _, seed := range []string{"1 OR 1=1", "%3Cscript%3E", "&lt;img onerror=x&gt;", "hello", "%", "&#x;", "\u200b"} {
		f.Add(seed)
	}
	cat := builtinCatalog(f)
	s := NewTextScanner(DefaultLimits())
	f.Fuzz(func(t *testing.T, in string) {
		sub := TextSubject{Content: in, Context: types.ContextGeneric}
		if sub.Validate() != nil {
			return
		}
		a := s.Scan(sub, cat)
		for _, fd := range a {
			if !fd.Severity.Valid() || !fd.Kind.Known() {
				t.Fatalf("invalid finding %v", fd)
			}
		}
		if b := s.Scan(sub, cat); !reflect.DeepEqual(a, b) {
			t.Fatalf("non-deterministic scan for %q", in)
		}
	})
}

func BenchmarkTextScan(b *testing.B) {
	cat := builtinCatalog(b)
	s := NewTextScanner(DefaultLimits())
	sub := TextSubject{
		Content: strings.Repeat("Community garden meeting this Saturday, bring gloves & seeds. ", 200),
		Context: types.ContextHTMLBody,
	}
	b.SetBytes(int64(len(sub.Content)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Scan(sub, cat)
	}
}
