// Package security ties the catalog store, the scanners, the risk
// aggregator and the sanitizer together and serves them over HTTP.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulseboard/sentinel/internal/logger"
	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/sanitize"
	"github.com/pulseboard/sentinel/internal/scanner"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

var log = logger.New("security")

var errNoSnapshot = errors.New("no catalog snapshot has been published")

// Config holds the engine tunables
type Config struct {
	Limits    scanner.Limits
	Risk      threat.RiskConfig
	Sanitizer sanitize.Policy
}

// DefaultConfig returns the built-in tunables.
func DefaultConfig() Config {
	return Config{
		Limits:    scanner.DefaultLimits(),
		Risk:      threat.DefaultRiskConfig(),
		Sanitizer: sanitize.DefaultPolicy(),
	}
}

// BinaryRequest is an uploaded file to scan.
type BinaryRequest struct {
	Bytes             []byte
	DeclaredName      string
	DeclaredMediaType string
	DeclaredSize      int64
	Category          types.Category
}

// TextRequest is a user-controlled string and where it will be used.
type TextRequest struct {
	Content string
	Context types.ContextTag
}

// Manager is the engine entry point. It reads the current catalog
// snapshot once per scan, so a reload never affects a scan in flight.
type Manager struct {
	store     *rules.Store
	binary    *scanner.BinaryScanner
	text      *scanner.TextScanner
	risk      threat.RiskConfig
	sanitizer *sanitize.Sanitizer
	metrics   *Metrics
}

var globalManager *Manager

// NewManager creates a manager over store.
func NewManager(store *rules.Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("catalog store is nil")
	}
	san, err := sanitize.New(cfg.Sanitizer)
	if err != nil {
		return nil, fmt.Errorf("sanitizer policy: %w", err)
	}
	return &Manager{
		store:     store,
		binary:    scanner.NewBinaryScanner(cfg.Limits),
		text:      scanner.NewTextScanner(cfg.Limits),
		risk:      cfg.Risk,
		sanitizer: san,
	}, nil
}

// SetMetrics attaches metrics; nil detaches them.
func (m *Manager) SetMetrics(mt *Metrics) {
	m.metrics = mt
}

// Metrics returns the attached metrics, or nil.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// ScanBinary scans an uploaded file against the current catalog.
func (m *Manager) ScanBinary(req BinaryRequest) (threat.Verdict, error) {
	const op = "scan binary"
	cat := m.store.Current()
	if cat == nil {
		err := threat.CatalogUnavailable(op, errNoSnapshot)
		m.metrics.rejected(scanTypeBinary, err)
		return threat.Verdict{}, err
	}

	subject := scanner.BinarySubject{
		Bytes:             req.Bytes,
		DeclaredName:      req.DeclaredName,
		DeclaredMediaType: req.DeclaredMediaType,
		DeclaredSize:      req.DeclaredSize,
		Category:          req.Category,
	}
	if err := subject.Validate(cat); err != nil {
		m.metrics.rejected(scanTypeBinary, err)
		return threat.Verdict{}, err
	}

	start := time.Now()
	v := threat.Aggregate(m.binary.Scan(subject, cat), m.risk)
	v.CatalogVersion = cat.Version()
	m.metrics.observe(scanTypeBinary, v, time.Since(start))
	return v, nil
}

// ScanText scans a string for the context it will be used in.
func (m *Manager) ScanText(req TextRequest) (threat.Verdict, error) {
	const op = "scan text"
	cat := m.store.Current()
	if cat == nil {
		err := threat.CatalogUnavailable(op, errNoSnapshot)
		m.metrics.rejected(scanTypeText, err)
		return threat.Verdict{}, err
	}

	subject := scanner.TextSubject{Content: req.Content, Context: req.Context}
	if err := subject.Validate(); err != nil {
		m.metrics.rejected(scanTypeText, err)
		return threat.Verdict{}, err
	}

	start := time.Now()
	v := threat.Aggregate(m.text.Scan(subject, cat), m.risk)
	v.CatalogVersion = cat.Version()
	m.metrics.observe(scanTypeText, v, time.Since(start))
	return v, nil
}

// Sanitize applies the configured sanitizer policy.
func (m *Manager) Sanitize(text string) string {
	return m.sanitizer.Sanitize(text)
}

// SanitizeWith applies p instead of the configured policy.
func (m *Manager) SanitizeWith(text string, p sanitize.Policy) string {
	return sanitize.Sanitize(text, p)
}

// Catalog returns the current snapshot, or nil.
func (m *Manager) Catalog() *rules.Catalog {
	return m.store.Current()
}

// Store returns the catalog store.
func (m *Manager) Store() *rules.Store {
	return m.store
}

// ReloadCatalog re-reads the user overlay. On failure the previous
// snapshot stays active and the error is returned.
func (m *Manager) ReloadCatalog() error {
	if err := m.store.Reload(); err != nil {
		return fmt.Errorf("reload catalog: %w", err)
	}
	log.Info("Catalog reloaded: %s", m.store.Current().Version())
	return nil
}

// SetGlobalManager sets the process-wide manager used by the server.
func SetGlobalManager(m *Manager) {
	globalManager = m
}

// GetGlobalManager returns the process-wide manager, or nil.
func GetGlobalManager() *Manager {
	return globalManager
}
