package threat

// RuleKind tags which rule family produced a finding.
type RuleKind string

// Binary scanner kinds.
const (
	SignatureMismatch   RuleKind = "SignatureMismatch"
	ExecutableSignature RuleKind = "ExecutableSignature"
	ScriptSignature     RuleKind = "ScriptSignature"
	DangerousExtension  RuleKind = "DangerousExtension"
	DoubleExtension     RuleKind = "DoubleExtension"
	MediaTypeMismatch   RuleKind = "MediaTypeMismatch"
	InvalidFilename     RuleKind = "InvalidFilename"
	PathTraversal       RuleKind = "PathTraversal"
	ReservedName        RuleKind = "ReservedName"
	MaliciousContent    RuleKind = "MaliciousContent"
	HighEntropy         RuleKind = "HighEntropy"
	EmbeddedArchive     RuleKind = "EmbeddedArchive"
	EmbeddedObject      RuleKind = "EmbeddedObject"
	EmptyFile           RuleKind = "EmptyFile"
	SizeMismatch        RuleKind = "SizeMismatch"
)

// Text scanner kinds.
const (
	SqlKeyword            RuleKind = "SqlKeyword"
	BooleanInjection      RuleKind = "BooleanInjection"
	TimeBasedInjection    RuleKind = "TimeBasedInjection"
	UnionInjection        RuleKind = "UnionInjection"
	StackedQuery          RuleKind = "StackedQuery"
	SqlComment            RuleKind = "SqlComment"
	SystemObjectReference RuleKind = "SystemObjectReference"
	DangerousKeyword      RuleKind = "DangerousKeyword"
	ScriptTag             RuleKind = "ScriptTag"
	EventHandlerAttribute RuleKind = "EventHandlerAttribute"
	ProtocolHandler       RuleKind = "ProtocolHandler"
	StyleInjection        RuleKind = "StyleInjection"
	TemplateInjection     RuleKind = "TemplateInjection"
	EncodedPayload        RuleKind = "EncodedPayload"
	ContextViolation      RuleKind = "ContextViolation"
)

// RuleEvaluationError marks a check that could not complete. Scans still
// finish; the failure is reported as data.
const RuleEvaluationError RuleKind = "RuleEvaluationError"

var baselines = map[RuleKind]Severity{
	SignatureMismatch:     High,
	ExecutableSignature:   Critical,
	ScriptSignature:       Critical,
	DangerousExtension:    High,
	DoubleExtension:       Medium,
	MediaTypeMismatch:     Medium,
	InvalidFilename:       Medium,
	PathTraversal:         High,
	ReservedName:          High,
	MaliciousContent:      Critical,
	HighEntropy:           Medium,
	EmbeddedArchive:       High,
	EmbeddedObject:        High,
	EmptyFile:             Medium,
	SizeMismatch:          Low,
	SqlKeyword:            Medium,
	BooleanInjection:      High,
	TimeBasedInjection:    Critical,
	UnionInjection:        Critical,
	StackedQuery:          High,
	SqlComment:            Medium,
	SystemObjectReference: High,
	DangerousKeyword:      Critical,
	ScriptTag:             Critical,
	EventHandlerAttribute: High,
	ProtocolHandler:       High,
	StyleInjection:        Medium,
	TemplateInjection:     Medium,
	EncodedPayload:        High,
	ContextViolation:      High,
	RuleEvaluationError:   Medium,
}

// Known reports whether k is a recognised rule kind.
func (k RuleKind) Known() bool {
	_, ok := baselines[k]
	return ok
}

// Baseline returns the default severity for a kind. Unknown kinds get Medium.
func Baseline(k RuleKind) Severity {
	if s, ok := baselines[k]; ok {
		return s
	}
	return Medium
}

// AllKinds returns every known kind.
func AllKinds() []RuleKind {
	kinds := make([]RuleKind, 0, len(baselines))
	for k := range baselines {
		kinds = append(kinds, k)
	}
	return kinds
}
