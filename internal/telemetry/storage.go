package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mutecomm/go-sqlcipher/v4" // SQLCipher driver for encrypted SQLite
	_ "modernc.org/sqlite"                  // Pure Go SQLite driver

	"github.com/pulseboard/sentinel/internal/fileutil"
	"github.com/pulseboard/sentinel/internal/logger"
)

var log = logger.New("telemetry")

// Storage is the scan audit log, backed by SQLite or SQLCipher.
type Storage struct {
	conn      *sql.DB
	encrypted bool
}

// MinEncryptionKeyLength is the minimum required length for encryption keys
const MinEncryptionKeyLength = 16

// NewStorage opens the audit database. With an encryption key the
// SQLCipher driver is used; otherwise the pure Go driver.
func NewStorage(dbPath string, encryptionKey string) (*Storage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if dbPath != ":memory:" {
		if err := fileutil.PreparePrivateFile(dbPath); err != nil {
			return nil, fmt.Errorf("prepare storage file: %w", err)
		}
	}

	var (
		conn *sql.DB
		err  error
	)
	if encryptionKey != "" {
		if len(encryptionKey) < MinEncryptionKeyLength {
			return nil, fmt.Errorf("encryption key must be at least %d characters", MinEncryptionKeyLength)
		}
		// Key goes in the DSN, never into a PRAGMA string.
		params := url.Values{}
		params.Set("_busy_timeout", "5000")
		params.Set("_journal_mode", "WAL")
		params.Set("_pragma_key", encryptionKey)
		conn, err = sql.Open("sqlite3", dbPath+"?"+params.Encode())
	} else {
		conn, err = sql.Open("sqlite", dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers and keeps :memory: databases alive.
	conn.SetMaxOpenConns(1)

	s := &Storage{conn: conn}
	if encryptionKey != "" {
		var result int
		if err := conn.QueryRowContext(context.Background(), "SELECT 1").Scan(&result); err != nil {
			conn.Close()
			return nil, fmt.Errorf("encryption key verification failed: %w", err)
		}
		s.encrypted = true
		log.Info("Audit database encryption enabled")
	} else {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}
	}

	if _, err := conn.ExecContext(context.Background(), schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id TEXT NOT NULL UNIQUE,
	timestamp TEXT NOT NULL,
	request_id TEXT,
	session_id TEXT,
	subject_type TEXT NOT NULL,
	subject TEXT,
	safe INTEGER NOT NULL,
	severity TEXT NOT NULL,
	risk_score INTEGER NOT NULL,
	finding_count INTEGER NOT NULL,
	kinds TEXT,
	findings TEXT DEFAULT '[]',
	catalog_version TEXT
);
CREATE INDEX IF NOT EXISTS idx_scan_audit_timestamp ON scan_audit(timestamp);
CREATE INDEX IF NOT EXISTS idx_scan_audit_safe ON scan_audit(safe);
CREATE INDEX IF NOT EXISTS idx_scan_audit_session_id ON scan_audit(session_id);
`

// timeLayout sorts lexically and matches SQLite's datetime() output.
const timeLayout = "2006-01-02 15:04:05"

// IsEncrypted returns whether the database is encrypted
func (s *Storage) IsEncrypted() bool {
	return s.encrypted
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.conn.Close()
}

// DB returns the underlying database connection
func (s *Storage) DB() *sql.DB {
	return s.conn
}

// RecordVerdict stores rec and returns its record id. A missing id or
// timestamp is filled in.
func (s *Storage) RecordVerdict(ctx context.Context, rec AuditRecord) (string, error) {
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	findings := string(rec.Findings)
	if findings == "" {
		findings = "[]"
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO scan_audit (record_id, timestamp, request_id, session_id, subject_type, subject,
			safe, severity, risk_score, finding_count, kinds, findings, catalog_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.Timestamp.UTC().Format(timeLayout), nullStr(rec.RequestID), nullStr(rec.SessionID),
		rec.SubjectType, nullStr(rec.Subject), boolInt(rec.Safe), rec.Severity, rec.RiskScore,
		rec.FindingCount, strings.Join(rec.Kinds, ","), findings, nullStr(rec.CatalogVersion))
	if err != nil {
		return "", fmt.Errorf("failed to record verdict: %w", err)
	}
	return rec.RecordID, nil
}

// MaxListLimit caps ListRecent.
const MaxListLimit = 1000

// ListQuery filters ListRecent.
type ListQuery struct {
	Limit      int
	UnsafeOnly bool
	SessionID  string
}

// ListRecent returns the newest records first.
func (s *Storage) ListRecent(ctx context.Context, q ListQuery) ([]AuditRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	} else if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}

	query := `SELECT id, record_id, timestamp, request_id, session_id, subject_type, subject, safe,
		severity, risk_score, finding_count, kinds, findings, catalog_version
		FROM scan_audit WHERE 1=1`
	var args []any
	if q.UnsafeOnly {
		query += ` AND safe = 0`
	}
	if q.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, q.SessionID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec                                    AuditRecord
			ts                                     string
			reqID, sessID, subject, kinds, version sql.NullString
			findings                               sql.NullString
			safe                                   int
		)
		if err := rows.Scan(&rec.ID, &rec.RecordID, &ts, &reqID, &sessID, &rec.SubjectType, &subject,
			&safe, &rec.Severity, &rec.RiskScore, &rec.FindingCount, &kinds, &findings, &version); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Timestamp = parseSQLiteTime(ts)
		rec.RequestID = reqID.String
		rec.SessionID = sessID.String
		rec.Subject = subject.String
		rec.Safe = safe != 0
		rec.CatalogVersion = version.String
		if kinds.String != "" {
			rec.Kinds = strings.Split(kinds.String, ",")
		}
		if findings.Valid && findings.String != "" && findings.String != "[]" {
			rec.Findings = []byte(findings.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AuditStats aggregates the audit log.
type AuditStats struct {
	TotalScans   int64            `json:"total_scans"`
	UnsafeScans  int64            `json:"unsafe_scans"`
	BinaryScans  int64            `json:"binary_scans"`
	TextScans    int64            `json:"text_scans"`
	BySeverity   map[string]int64 `json:"by_severity"`
	LastScanTime *time.Time       `json:"last_scan_time,omitempty"`
}

// Stats returns totals over the whole audit log.
func (s *Storage) Stats(ctx context.Context) (*AuditStats, error) {
	stats := &AuditStats{BySeverity: make(map[string]int64)}

	var last sql.NullString
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN safe = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN subject_type = 'binary' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN subject_type = 'text' THEN 1 ELSE 0 END), 0),
			MAX(timestamp)
		FROM scan_audit`).Scan(&stats.TotalScans, &stats.UnsafeScans, &stats.BinaryScans, &stats.TextScans, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	if last.Valid {
		t := parseSQLiteTime(last.String)
		stats.LastScanTime = &t
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT severity, COUNT(*) FROM scan_audit GROUP BY severity`)
	if err != nil {
		log.Warn("Failed to get severity breakdown: %v", err)
		return stats, nil
	}
	defer rows.Close()
	for rows.Next() {
		var sev string
		var n int64
		if err := rows.Scan(&sev, &n); err == nil {
			stats.BySeverity[sev] = n
		}
	}
	return stats, rows.Err()
}

// MaxRetentionDays is the maximum allowed retention period
const MaxRetentionDays = 36500 // 100 years

// CleanupOldData deletes records older than days. Zero or negative days
// keeps everything.
func (s *Storage) CleanupOldData(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	if days > MaxRetentionDays {
		days = MaxRetentionDays
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout)
	result, err := s.conn.ExecContext(ctx, `DELETE FROM scan_audit WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if deleted > 0 {
		log.Info("Cleaned up %d old audit records (retention: %d days)", deleted, days)
	}
	return deleted, nil
}

// sqliteDateFormats lists the datetime formats tried when reading
// timestamps back.
var sqliteDateFormats = []string{
	timeLayout,
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05",
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range sqliteDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
