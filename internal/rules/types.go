package rules

import (
	"errors"
	"time"
)

// Source represents the origin of a catalog file.
type Source string

// Catalog sources
const (
	SourceBuiltin Source = "builtin"
	SourceUser    Source = "user"
	SourceCLI     Source = "cli"
)

// SourceFile is one parsed catalog file.
type SourceFile struct {
	Path   string
	Source Source
	Data   []byte
	File   CatalogFile
}

// ReloadCallback is called after a new catalog snapshot is published.
type ReloadCallback func(c *Catalog)

// Stats summarises a catalog snapshot.
type Stats struct {
	Version           string    `json:"version"`
	LoadedAt          time.Time `json:"loaded_at"`
	Files             int       `json:"files"`
	UserFiles         int       `json:"user_files"`
	MediaTypes        int       `json:"media_types"`
	Extensions        int       `json:"extensions"`
	ExecutableSigs    int       `json:"executable_signatures"`
	TextRules         int       `json:"text_rules"`
	ContentRules      int       `json:"content_rules"`
	DangerousKeywords int       `json:"dangerous_keywords"`
}

var errTooLarge = errors.New("request body too large")
