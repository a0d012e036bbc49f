package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pulseboard/sentinel/internal/types"
)

// Catalog is an immutable compiled snapshot of every catalog file. It is
// shared read-only between concurrent scans; reloads build a new one.
type Catalog struct {
	version  string
	loadedAt time.Time

	signatures     map[string][]BytePattern
	executables    []ExecutableSignature
	extensions     map[string][]string
	categories     map[types.Category]map[string]bool
	containerTypes map[string]bool

	executableExt  map[string]bool
	compound       *Matcher
	reserved       map[string]bool
	archiveEntries *Matcher

	textRules    []*TextRule
	contentRules []*ContentRule

	keywords        []string
	keywordRegex    *regexp.Regexp
	keywordContexts map[types.ContextTag]bool

	files     int
	userFiles int
}

// Version identifies the snapshot: the declared catalog version plus a
// digest of every source file.
func (c *Catalog) Version() string { return c.version }

// LoadedAt is when the snapshot was compiled.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

// SignaturesFor returns the magic-byte patterns registered for mediaType.
func (c *Catalog) SignaturesFor(mediaType string) []BytePattern {
	return c.signatures[NormalizeMediaType(mediaType)]
}

// Executables returns the signatures checked against every upload.
func (c *Catalog) Executables() []ExecutableSignature {
	return c.executables
}

// MediaTypesForExtension returns the media types an extension may carry.
func (c *Catalog) MediaTypesForExtension(ext string) []string {
	return c.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// HasCategory reports whether the catalog configures cat.
func (c *Catalog) HasCategory(cat types.Category) bool {
	_, ok := c.categories[cat]
	return ok
}

// CategoryAllows reports whether mediaType may be uploaded as cat.
func (c *Catalog) CategoryAllows(cat types.Category, mediaType string) bool {
	return c.categories[cat][NormalizeMediaType(mediaType)]
}

// IsContainerType reports whether mediaType is ZIP-based.
func (c *Catalog) IsContainerType(mediaType string) bool {
	return c.containerTypes[NormalizeMediaType(mediaType)]
}

// IsExecutableExtension reports whether ext names executable content.
func (c *Catalog) IsExecutableExtension(ext string) bool {
	return c.executableExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// IsCompoundName reports whether name ends in an allow-listed multi-part
// extension such as ".tar.gz".
func (c *Catalog) IsCompoundName(name string) bool {
	return c.compound.Match(name)
}

// IsReservedName reports whether base (without extension) is a reserved
// device name.
func (c *Catalog) IsReservedName(base string) bool {
	return c.reserved[strings.ToUpper(base)]
}

// SuspiciousArchiveEntry returns the pattern an archive entry name matches.
func (c *Catalog) SuspiciousArchiveEntry(name string) (string, bool) {
	return c.archiveEntries.MatchPattern(name)
}

// TextRulesFor returns the text rules for ctx in catalog order.
func (c *Catalog) TextRulesFor(ctx types.ContextTag) []*TextRule {
	var out []*TextRule
	for _, r := range c.textRules {
		if r.AppliesTo(ctx) {
			out = append(out, r)
		}
	}
	return out
}

// TextRules returns every text rule.
func (c *Catalog) TextRules() []*TextRule {
	return c.textRules
}

// ContentRules returns the in-binary patterns.
func (c *Catalog) ContentRules() []*ContentRule {
	return c.contentRules
}

// KeywordMatcher returns the dangerous-keyword pattern if it applies to
// ctx, or nil.
func (c *Catalog) KeywordMatcher(ctx types.ContextTag) *regexp.Regexp {
	if c.keywordRegex == nil || !c.keywordContexts[ctx] {
		return nil
	}
	return c.keywordRegex
}

// DangerousKeywords returns the configured keyword list.
func (c *Catalog) DangerousKeywords() []string {
	return append([]string(nil), c.keywords...)
}

// Stats summarises the snapshot.
func (c *Catalog) Stats() Stats {
	return Stats{
		Version:           c.version,
		LoadedAt:          c.loadedAt,
		Files:             c.files,
		UserFiles:         c.userFiles,
		MediaTypes:        len(c.signatures),
		Extensions:        len(c.extensions),
		ExecutableSigs:    len(c.executables),
		TextRules:         len(c.textRules),
		ContentRules:      len(c.contentRules),
		DangerousKeywords: len(c.keywords),
	}
}

// Compile merges files in order and compiles the result. Later files
// extend earlier ones; a rule with an existing name replaces it, and
// "enabled: false" removes it.
func Compile(files []SourceFile) (*Catalog, error) {
	m := newMerger()
	for _, f := range files {
		if err := m.add(f); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
	}
	return m.build()
}

type merger struct {
	declared       string
	digest         []byte
	signatures     map[string][]BytePattern
	execOrder      []string
	executables    map[string]ExecutableSignature
	extensions     map[string][]string
	categories     map[types.Category]map[string]bool
	containerTypes map[string]bool
	executableExt  map[string]bool
	compound       []string
	reserved       map[string]bool
	archiveEntries []string
	textOrder      []string
	textRules      map[string]*TextRule
	contentOrder   []string
	contentRules   map[string]*ContentRule
	keywords       []string
	keywordSeen    map[string]bool
	keywordCtx     map[types.ContextTag]bool
	files          int
	userFiles      int
}

func newMerger() *merger {
	return &merger{
		signatures:     make(map[string][]BytePattern),
		executables:    make(map[string]ExecutableSignature),
		extensions:     make(map[string][]string),
		categories:     make(map[types.Category]map[string]bool),
		containerTypes: make(map[string]bool),
		executableExt:  make(map[string]bool),
		reserved:       make(map[string]bool),
		textRules:      make(map[string]*TextRule),
		contentRules:   make(map[string]*ContentRule),
		keywordSeen:    make(map[string]bool),
		keywordCtx:     make(map[types.ContextTag]bool),
	}
}

func appendUnique(order []string, name string, exists bool) []string {
	if exists {
		return order
	}
	return append(order, name)
}

func (m *merger) add(sf SourceFile) error {
	f := sf.File
	if err := f.Validate(); err != nil {
		return err
	}
	m.files++
	if sf.Source == SourceUser {
		m.userFiles++
	}
	sum := sha256.Sum256(sf.Data)
	m.digest = append(m.digest, sum[:]...)
	if m.declared == "" && f.CatalogVersion != "" {
		m.declared = f.CatalogVersion
	}

	for i, s := range f.Signatures {
		mt := NormalizeMediaType(s.MediaType)
		if _, ok := m.signatures[mt]; !ok {
			m.signatures[mt] = nil
		}
		for _, raw := range s.Patterns {
			p, err := ParseBytePattern(raw, s.Offset)
			if err != nil {
				return fmt.Errorf("signatures[%d] %s: %w", i, mt, err)
			}
			m.signatures[mt] = append(m.signatures[mt], p)
		}
	}

	for _, e := range f.Executables {
		_, exists := m.executables[e.Name]
		if !enabled(e.Enabled) {
			delete(m.executables, e.Name)
			continue
		}
		sig, err := compileExecutable(e)
		if err != nil {
			return fmt.Errorf("executable %q: %w", e.Name, err)
		}
		m.execOrder = appendUnique(m.execOrder, e.Name, exists)
		m.executables[e.Name] = sig
	}

	for ext, mts := range f.Extensions {
		norm := make([]string, len(mts))
		for i, mt := range mts {
			norm[i] = NormalizeMediaType(mt)
		}
		m.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = norm
	}

	for cat, mts := range f.Categories {
		set := m.categories[types.Category(cat)]
		if set == nil {
			set = make(map[string]bool)
			m.categories[types.Category(cat)] = set
		}
		for _, mt := range mts {
			set[NormalizeMediaType(mt)] = true
		}
	}

	for _, mt := range f.ContainerTypes {
		m.containerTypes[NormalizeMediaType(mt)] = true
	}

	if fn := f.Filenames; fn != nil {
		for _, ext := range fn.ExecutableExtensions {
			m.executableExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
		}
		m.compound = append(m.compound, fn.CompoundExtensions...)
		for _, n := range fn.ReservedNames {
			m.reserved[strings.ToUpper(n)] = true
		}
		m.archiveEntries = append(m.archiveEntries, fn.SuspiciousArchiveEntries...)
	}

	for _, r := range f.TextRules {
		_, exists := m.textRules[r.Name]
		if !enabled(r.Enabled) {
			delete(m.textRules, r.Name)
			continue
		}
		tr, err := compileTextRule(r, sf.Source)
		if err != nil {
			return fmt.Errorf("text rule %q: %w", r.Name, err)
		}
		m.textOrder = appendUnique(m.textOrder, r.Name, exists)
		m.textRules[r.Name] = tr
	}

	for _, r := range f.ContentRules {
		_, exists := m.contentRules[r.Name]
		if !enabled(r.Enabled) {
			delete(m.contentRules, r.Name)
			continue
		}
		cr, err := compileContentRule(r, sf.Source)
		if err != nil {
			return fmt.Errorf("content rule %q: %w", r.Name, err)
		}
		m.contentOrder = appendUnique(m.contentOrder, r.Name, exists)
		m.contentRules[r.Name] = cr
	}

	if kw := f.Keywords; kw != nil {
		ctxs, err := expandContexts(kw.Contexts)
		if err != nil {
			return fmt.Errorf("dangerous_keywords: %w", err)
		}
		for c := range ctxs {
			m.keywordCtx[c] = true
		}
		for _, w := range kw.Words {
			key := strings.ToLower(strings.Join(strings.Fields(w), " "))
			if m.keywordSeen[key] {
				continue
			}
			m.keywordSeen[key] = true
			m.keywords = append(m.keywords, key)
		}
	}
	return nil
}

func (m *merger) build() (*Catalog, error) {
	c := &Catalog{
		loadedAt:        time.Now(),
		signatures:      m.signatures,
		extensions:      m.extensions,
		categories:      m.categories,
		containerTypes:  m.containerTypes,
		executableExt:   m.executableExt,
		reserved:        m.reserved,
		keywords:        m.keywords,
		keywordContexts: m.keywordCtx,
		files:           m.files,
		userFiles:       m.userFiles,
	}

	for _, name := range m.execOrder {
		if sig, ok := m.executables[name]; ok {
			c.executables = append(c.executables, sig)
		}
	}
	for _, name := range m.textOrder {
		if r, ok := m.textRules[name]; ok {
			c.textRules = append(c.textRules, r)
		}
	}
	for _, name := range m.contentOrder {
		if r, ok := m.contentRules[name]; ok {
			c.contentRules = append(c.contentRules, r)
		}
	}

	var err error
	if c.compound, err = NewMatcher(m.compound); err != nil {
		return nil, fmt.Errorf("compound_extensions: %w", err)
	}
	if c.archiveEntries, err = NewMatcher(m.archiveEntries); err != nil {
		return nil, fmt.Errorf("suspicious_archive_entries: %w", err)
	}
	if c.keywordRegex, err = keywordPattern(m.keywords); err != nil {
		return nil, fmt.Errorf("dangerous_keywords: %w", err)
	}

	for cat, set := range m.categories {
		for mt := range set {
			if !m.mediaTypeKnown(mt) {
				return nil, fmt.Errorf("category %s allows %s but no extension maps to it", cat, mt)
			}
		}
	}

	declared := m.declared
	if declared == "" {
		declared = "custom"
	}
	sum := sha256.Sum256(m.digest)
	c.version = declared + "+" + hex.EncodeToString(sum[:])[:12]
	return c, nil
}

func (m *merger) mediaTypeKnown(mt string) bool {
	for _, mts := range m.extensions {
		for _, x := range mts {
			if x == mt {
				return true
			}
		}
	}
	return false
}

// MediaTypes returns every media type with registered signatures, sorted.
func (c *Catalog) MediaTypes() []string {
	out := make([]string, 0, len(c.signatures))
	for mt := range c.signatures {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}
