package rules

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

// SchemaVersion is the only catalog file format version understood.
const SchemaVersion = 1

// StringOrArray handles YAML fields that accept string or []string
type StringOrArray []string

func (s *StringOrArray) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return fmt.Errorf("empty value not allowed")
		}
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var arr []string
		if err := node.Decode(&arr); err != nil {
			return err
		}
		for i, v := range arr {
			if v == "" {
				return fmt.Errorf("[%d]: empty value not allowed", i)
			}
		}
		*s = arr
		return nil
	default:
		return fmt.Errorf("must be string or array, got %v", node.Kind)
	}
}

// CatalogFile is the YAML structure of one catalog file. Every section is
// optional; files are merged in load order.
type CatalogFile struct {
	Version        int                      `yaml:"version"`
	CatalogVersion string                   `yaml:"catalog_version,omitempty"`
	Signatures     []SignatureConfig        `yaml:"signatures,omitempty"`
	Executables    []ExecutableConfig       `yaml:"executables,omitempty"`
	Extensions     map[string]StringOrArray `yaml:"extensions,omitempty"`
	Categories     map[string][]string      `yaml:"categories,omitempty"`
	ContainerTypes []string                 `yaml:"container_types,omitempty"`
	Filenames      *FilenameConfig          `yaml:"filenames,omitempty"`
	TextRules      []TextRuleConfig         `yaml:"text_rules,omitempty"`
	ContentRules   []ContentRuleConfig      `yaml:"content_rules,omitempty"`
	Keywords       *KeywordConfig           `yaml:"dangerous_keywords,omitempty"`
}

// SignatureConfig registers magic-byte patterns for a media type.
// Patterns are hex bytes separated by spaces; "??" matches any byte.
type SignatureConfig struct {
	MediaType string        `yaml:"media_type"`
	Patterns  StringOrArray `yaml:"patterns"`
	Offset    int           `yaml:"offset,omitempty"`
}

// ExecutableConfig is a signature checked regardless of declared type.
type ExecutableConfig struct {
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind,omitempty"`
	Severity    string   `yaml:"severity,omitempty"`
	Pattern     string   `yaml:"pattern"`
	Offset      int      `yaml:"offset,omitempty"`
	AllowFor    []string `yaml:"allow_for,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
}

// FilenameConfig holds the name-level lists used by the binary scanner.
type FilenameConfig struct {
	ExecutableExtensions     []string `yaml:"executable_extensions,omitempty"`
	CompoundExtensions       []string `yaml:"compound_extensions,omitempty"`
	ReservedNames            []string `yaml:"reserved_names,omitempty"`
	SuspiciousArchiveEntries []string `yaml:"suspicious_archive_entries,omitempty"`
}

// TextRuleConfig is one text pattern. Contexts accepts context tags plus
// the aliases "all", "sql" and "html".
type TextRuleConfig struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"`
	Severity    string        `yaml:"severity,omitempty"`
	Pattern     string        `yaml:"pattern"`
	Contexts    StringOrArray `yaml:"contexts"`
	Description string        `yaml:"description,omitempty"`
	Enabled     *bool         `yaml:"enabled,omitempty"`
}

// ContentRuleConfig is a pattern searched for inside uploaded bytes.
type ContentRuleConfig struct {
	Name        string `yaml:"name"`
	Severity    string `yaml:"severity,omitempty"`
	Pattern     string `yaml:"pattern"`
	Description string `yaml:"description,omitempty"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
}

// KeywordConfig lists SQL words that are always Critical.
type KeywordConfig struct {
	Contexts StringOrArray `yaml:"contexts"`
	Words    []string      `yaml:"words"`
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// Validate checks a single file for structural errors. Patterns are
// compiled later, when the file is merged into a catalog.
func (f *CatalogFile) Validate() error {
	if f.Version != SchemaVersion {
		return fmt.Errorf("unsupported catalog version %d (want %d)", f.Version, SchemaVersion)
	}

	for i, s := range f.Signatures {
		if s.MediaType == "" {
			return fmt.Errorf("signatures[%d]: media_type is required", i)
		}
		if s.Offset < 0 {
			return fmt.Errorf("signatures[%d]: negative offset", i)
		}
	}

	names := make(map[string]bool)
	for i, e := range f.Executables {
		if e.Name == "" {
			return fmt.Errorf("executables[%d]: name is required", i)
		}
		if names[e.Name] {
			return fmt.Errorf("duplicate executable signature name: %s", e.Name)
		}
		names[e.Name] = true
		if enabled(e.Enabled) && e.Pattern == "" {
			return fmt.Errorf("executables[%d] %q: pattern is required", i, e.Name)
		}
		if err := validateKindSeverity(e.Kind, e.Severity, true); err != nil {
			return fmt.Errorf("executables[%d] %q: %w", i, e.Name, err)
		}
	}

	for cat := range f.Categories {
		if !types.Category(cat).Valid() {
			return fmt.Errorf("categories: unknown category %q", cat)
		}
	}

	names = make(map[string]bool)
	for i, r := range f.TextRules {
		if r.Name == "" {
			return fmt.Errorf("text_rules[%d]: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate text rule name: %s", r.Name)
		}
		names[r.Name] = true
		if !enabled(r.Enabled) {
			continue
		}
		if r.Pattern == "" {
			return fmt.Errorf("text_rules[%d] %q: pattern is required", i, r.Name)
		}
		if err := validateKindSeverity(r.Kind, r.Severity, false); err != nil {
			return fmt.Errorf("text_rules[%d] %q: %w", i, r.Name, err)
		}
		if _, err := expandContexts(r.Contexts); err != nil {
			return fmt.Errorf("text_rules[%d] %q: %w", i, r.Name, err)
		}
	}

	names = make(map[string]bool)
	for i, r := range f.ContentRules {
		if r.Name == "" {
			return fmt.Errorf("content_rules[%d]: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate content rule name: %s", r.Name)
		}
		names[r.Name] = true
		if enabled(r.Enabled) && r.Pattern == "" {
			return fmt.Errorf("content_rules[%d] %q: pattern is required", i, r.Name)
		}
		if err := validateKindSeverity("", r.Severity, true); err != nil {
			return fmt.Errorf("content_rules[%d] %q: %w", i, r.Name, err)
		}
	}

	if f.Keywords != nil {
		if _, err := expandContexts(f.Keywords.Contexts); err != nil {
			return fmt.Errorf("dangerous_keywords: %w", err)
		}
		for i, w := range f.Keywords.Words {
			if strings.TrimSpace(w) == "" {
				return fmt.Errorf("dangerous_keywords.words[%d]: empty word", i)
			}
		}
	}
	return nil
}

func validateKindSeverity(kind, severity string, kindOptional bool) error {
	if kind == "" {
		if !kindOptional {
			return fmt.Errorf("kind is required")
		}
	} else if !threat.RuleKind(kind).Known() {
		return fmt.Errorf("unknown kind %q", kind)
	}
	if severity != "" {
		if _, err := threat.ParseSeverity(severity); err != nil {
			return err
		}
	}
	return nil
}

// expandContexts resolves context names and aliases into a set.
func expandContexts(names []string) (map[types.ContextTag]bool, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("contexts is required")
	}
	set := make(map[types.ContextTag]bool)
	for _, n := range names {
		switch strings.ToLower(n) {
		case "all":
			for _, c := range types.AllContexts() {
				set[c] = true
			}
		case "sql":
			for _, c := range types.AllContexts() {
				if c.IsSQL() {
					set[c] = true
				}
			}
			set[types.ContextGeneric] = true
		case "html":
			for _, c := range types.AllContexts() {
				if c.IsHTML() {
					set[c] = true
				}
			}
			set[types.ContextGeneric] = true
		default:
			c := types.ContextTag(strings.ToLower(n))
			if !c.Valid() {
				return nil, fmt.Errorf("unknown context %q", n)
			}
			set[c] = true
		}
	}
	return set, nil
}
