// Package scanner inspects uploaded bytes and free text for injection and
// malware signals. Scanners are pure: they read the subject and an
// immutable catalog snapshot and return findings. They never log and never
// fail; a check that cannot complete is reported as a finding.
package scanner

// Limits bound the work a scan may do.
type Limits struct {
	// ContentScanPrefix is how many leading bytes content rules and the
	// embedded-archive search look at.
	ContentScanPrefix int
	// EntropySampleSize is how many leading bytes feed the entropy estimate.
	EntropySampleSize int
	// EntropyThreshold in bits per byte; strictly above it is reported.
	EntropyThreshold float64
	// HeaderRegion is the signature window. Archive headers found before
	// it belong to the file itself.
	HeaderRegion int
	// DecodeDepth is how many URL/HTML decoding layers text scans peel.
	DecodeDepth int
	// SizeTolerance is the allowed difference between the declared and
	// actual byte count.
	SizeTolerance int64
	// MaxArchiveEntries caps archive directory inspection.
	MaxArchiveEntries int
	// MaxFilenameLen is the longest accepted name in bytes.
	MaxFilenameLen int
}

// Default bounds.
const (
	DefaultContentScanPrefix = 1 << 20
	DefaultEntropySampleSize = 1 << 10
	DefaultEntropyThreshold  = 7.5
	DefaultHeaderRegion      = 16
	DefaultDecodeDepth       = 2
	DefaultMaxArchiveEntries = 1000
	DefaultMaxFilenameLen    = 255
)

// DefaultLimits returns the standard bounds.
func DefaultLimits() Limits {
	return Limits{
		ContentScanPrefix: DefaultContentScanPrefix,
		EntropySampleSize: DefaultEntropySampleSize,
		EntropyThreshold:  DefaultEntropyThreshold,
		HeaderRegion:      DefaultHeaderRegion,
		DecodeDepth:       DefaultDecodeDepth,
		MaxArchiveEntries: DefaultMaxArchiveEntries,
		MaxFilenameLen:    DefaultMaxFilenameLen,
	}
}

// withDefaults fills zero fields. A zero DecodeDepth or SizeTolerance is a
// legitimate setting and is kept.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.ContentScanPrefix <= 0 {
		l.ContentScanPrefix = d.ContentScanPrefix
	}
	if l.EntropySampleSize <= 0 {
		l.EntropySampleSize = d.EntropySampleSize
	}
	if l.EntropyThreshold <= 0 {
		l.EntropyThreshold = d.EntropyThreshold
	}
	if l.HeaderRegion <= 0 {
		l.HeaderRegion = d.HeaderRegion
	}
	if l.DecodeDepth < 0 {
		l.DecodeDepth = 0
	}
	if l.SizeTolerance < 0 {
		l.SizeTolerance = 0
	}
	if l.MaxArchiveEntries <= 0 {
		l.MaxArchiveEntries = d.MaxArchiveEntries
	}
	if l.MaxFilenameLen <= 0 {
		l.MaxFilenameLen = d.MaxFilenameLen
	}
	return l
}
