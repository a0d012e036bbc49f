package telemetry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pulseboard/sentinel/internal/threat"
)

// Subject types recorded in the audit log.
const (
	SubjectBinary = "binary"
	SubjectText   = "text"
)

// maxSubjectLen caps the stored filename or context label.
const maxSubjectLen = 255

// AuditRecord is one scan outcome as stored in the audit log. Findings
// are stored redacted; matched fragments never reach disk.
type AuditRecord struct {
	ID             int64           `json:"-"`
	RecordID       string          `json:"record_id"`
	Timestamp      time.Time       `json:"timestamp"`
	RequestID      string          `json:"request_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	SubjectType    string          `json:"subject_type"`
	Subject        string          `json:"subject,omitempty"`
	Safe           bool            `json:"safe"`
	Severity       string          `json:"severity"`
	RiskScore      int             `json:"risk_score"`
	FindingCount   int             `json:"finding_count"`
	Kinds          []string        `json:"kinds,omitempty"`
	Findings       json.RawMessage `json:"findings,omitempty"`
	CatalogVersion string          `json:"catalog_version,omitempty"`
}

// NewAuditRecord builds a record from a verdict. subject is the declared
// filename for binary scans and the context tag for text scans.
func NewAuditRecord(v threat.Verdict, subjectType, subject string) AuditRecord {
	rec := AuditRecord{
		SubjectType:    subjectType,
		Subject:        truncateString(subject, maxSubjectLen),
		Safe:           v.Safe,
		Severity:       v.Severity.String(),
		RiskScore:      v.RiskScore,
		FindingCount:   len(v.Findings),
		CatalogVersion: v.CatalogVersion,
	}

	kinds := make(map[string]bool)
	for _, f := range v.Findings {
		kinds[string(f.Kind)] = true
	}
	for k := range kinds {
		rec.Kinds = append(rec.Kinds, k)
	}
	sort.Strings(rec.Kinds)

	if len(v.Findings) > 0 {
		if data, err := json.Marshal(v.Redacted().Findings); err == nil {
			rec.Findings = data
		}
	}
	return rec
}

// WithIDs sets the caller-supplied correlation ids.
func (r AuditRecord) WithIDs(requestID, sessionID string) AuditRecord {
	r.RequestID = truncateString(requestID, maxSubjectLen)
	r.SessionID = truncateString(sessionID, maxSubjectLen)
	return r
}

var globalStorage *Storage

// SetGlobalStorage sets the process-wide audit store
func SetGlobalStorage(s *Storage) {
	globalStorage = s
}

// GetGlobalStorage returns the process-wide audit store, or nil
func GetGlobalStorage() *Storage {
	return globalStorage
}

// truncateString cuts s to at most maxLen bytes on a rune boundary.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !runeStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

func runeStart(b byte) bool {
	return b&0xC0 != 0x80
}
