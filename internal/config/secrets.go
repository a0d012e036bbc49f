package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Secrets holds sensitive configuration loaded from environment variables
// SECURITY: Use environment variables instead of CLI flags for secrets
// CLI flags are visible in process listings (ps auxww)
type Secrets struct {
	// APIToken guards the catalog management API
	// Env: SENTINEL_API_TOKEN
	APIToken string `envconfig:"API_TOKEN"`

	// AuditKey is the SQLCipher encryption key for the audit log
	// Env: SENTINEL_AUDIT_KEY
	AuditKey string `envconfig:"AUDIT_KEY"`
}

// envPrefix namespaces the secret variables.
const envPrefix = "SENTINEL"

// LoadSecrets loads secrets from environment variables
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}
	return &s, nil
}

// Validate checks secret strength
func (s *Secrets) Validate() error {
	if s.AuditKey != "" && len(s.AuditKey) < 16 {
		return errors.New("audit encryption key must be at least 16 characters (SENTINEL_AUDIT_KEY)")
	}
	if s.APIToken != "" && len(s.APIToken) < 12 {
		return errors.New("API token must be at least 12 characters (SENTINEL_API_TOKEN)")
	}
	return nil
}

// HasAuditEncryption returns true if audit log encryption is configured
func (s *Secrets) HasAuditEncryption() bool {
	return s.AuditKey != ""
}

// MaskAPIToken returns a masked version of the API token for logging
func (s *Secrets) MaskAPIToken() string {
	if s.APIToken == "" {
		return "(not set)"
	}
	if len(s.APIToken) <= 8 {
		return "****"
	}
	return s.APIToken[:4] + "****" + s.APIToken[len(s.APIToken)-4:]
}
