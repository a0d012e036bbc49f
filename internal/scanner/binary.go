package scanner

import (
	"fmt"

	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/threat"
)

// BinaryScanner runs the upload checks in a fixed order. Every check runs
// regardless of earlier results.
type BinaryScanner struct {
	limits Limits
}

// NewBinaryScanner creates a scanner with the given bounds. Zero fields take
// their defaults.
func NewBinaryScanner(l Limits) *BinaryScanner {
	return &BinaryScanner{limits: l.withDefaults()}
}

// Limits returns the effective bounds.
func (s *BinaryScanner) Limits() Limits {
	return s.limits
}

// binaryCheck is one step of a binary scan.
type binaryCheck struct {
	name string
	run  func(*binaryScan) []threat.Finding
}

var binaryChecks = []binaryCheck{
	{"filename", (*binaryScan).checkFilename},
	{"media type", (*binaryScan).checkMediaType},
	{"signature", (*binaryScan).checkSignature},
	{"content", (*binaryScan).checkContent},
	{"entropy", (*binaryScan).checkEntropy},
	{"archive", (*binaryScan).checkArchive},
	{"size", (*binaryScan).checkSize},
}

// binaryScan carries the per-call state shared between checks.
type binaryScan struct {
	limits  Limits
	subject BinarySubject
	cat     *rules.Catalog

	// name is the NFKC-normalized declared name.
	name string
	// exts are the lowercased dot-separated parts after the base name.
	exts []string
	// mediaType is the declared media type, or the first type the
	// extension maps to when none was declared.
	mediaType string
	prefix    []byte
}

// Scan inspects subject against cat. Call BinarySubject.Validate first; Scan
// itself accepts anything and never panics.
func (s *BinaryScanner) Scan(subject BinarySubject, cat *rules.Catalog) []threat.Finding {
	b := newBinaryScan(s.limits, subject, cat)
	findings := make([]threat.Finding, 0, 4)
	for _, c := range binaryChecks {
		findings = guard(c.name, findings, func() []threat.Finding { return c.run(b) })
	}
	return findings
}

func newBinaryScan(l Limits, subject BinarySubject, cat *rules.Catalog) *binaryScan {
	b := &binaryScan{limits: l, subject: subject, cat: cat}
	b.name = rules.NormalizeFilename(subject.DeclaredName)
	b.exts = extensions(b.name)
	b.mediaType = rules.NormalizeMediaType(subject.DeclaredMediaType)
	if b.mediaType == "" && len(b.exts) > 0 {
		if mts := cat.MediaTypesForExtension(b.exts[len(b.exts)-1]); len(mts) > 0 {
			b.mediaType = mts[0]
		}
	}
	b.prefix = subject.Bytes
	if len(b.prefix) > l.ContentScanPrefix {
		b.prefix = b.prefix[:l.ContentScanPrefix]
	}
	return b
}

// guard runs fn and appends its findings. A panic becomes a
// RuleEvaluationError finding so the scan still completes.
func guard(step string, findings []threat.Finding, fn func() []threat.Finding) (out []threat.Finding) {
	out = findings
	defer func() {
		if r := recover(); r != nil {
			out = append(findings, threat.NewFinding(threat.RuleEvaluationError, threat.Medium,
				fmt.Sprintf("%s check failed: %v", step, r)))
		}
	}()
	return append(findings, fn()...)
}
