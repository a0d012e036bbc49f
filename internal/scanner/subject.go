package scanner

import (
	"strings"
	"unicode/utf8"

	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

// BinarySubject is an uploaded file. Bytes nil means no content was
// supplied at all; an empty non-nil slice is an empty file.
type BinarySubject struct {
	Bytes             []byte
	DeclaredName      string
	DeclaredMediaType string
	// DeclaredSize is the client-reported length. Zero means the client
	// did not report one and the size comparison is skipped.
	DeclaredSize      int64
	Category          types.Category
}

// Validate rejects subjects the binary scanner cannot meaningfully scan.
// cat may be nil, in which case the category is only checked by name.
func (b BinarySubject) Validate(cat *rules.Catalog) error {
	const op = "scan binary"
	if b.Bytes == nil {
		return threat.InvalidInput(op, "no content supplied")
	}
	if strings.TrimSpace(b.DeclaredName) == "" {
		return threat.InvalidInput(op, "declared name is empty")
	}
	if b.DeclaredSize < 0 {
		return threat.InvalidInput(op, "declared size %d is negative", b.DeclaredSize)
	}
	if !b.Category.Valid() {
		return threat.InvalidInput(op, "unknown category %q", b.Category)
	}
	if cat != nil && !cat.HasCategory(b.Category) {
		return threat.InvalidInput(op, "category %q is not configured", b.Category)
	}
	return nil
}

// TextSubject is a free-text field and the context it will be used in.
type TextSubject struct {
	Content string
	Context types.ContextTag
}

// Validate rejects empty or non-UTF-8 content and unknown contexts.
func (t TextSubject) Validate() error {
	const op = "scan text"
	if t.Content == "" {
		return threat.InvalidInput(op, "content is empty")
	}
	if !utf8.ValidString(t.Content) {
		return threat.InvalidInput(op, "content is not valid UTF-8")
	}
	if !t.Context.Valid() {
		return threat.InvalidInput(op, "unknown context %q", t.Context)
	}
	return nil
}
