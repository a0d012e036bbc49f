package scanner

import (
	"bytes"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/pulseboard/sentinel/internal/rules"
	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

var (
	catalogOnce sync.Once
	catalog     *rules.Catalog
	catalogErr  error
)

func builtinCatalog(t testing.TB) *rules.Catalog {
	t.Helper()
	catalogOnce.Do(func() {
		catalog, catalogErr = rules.LoadBuiltinCatalog()
	})
	if catalogErr != nil {
		t.Fatalf("LoadBuiltinCatalog: %v", catalogErr)
	}
	return catalog
}

// jpegBytes returns a JFIF header padded with zeros to n bytes.
func jpegBytes(n int) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	if n > len(b) {
		b = append(b, make([]byte, n-len(b))...)
	}
	return b
}

func zipBytes(t testing.TB, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte("content of " + n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func image(name, mediaType string, data []byte) BinarySubject {
	return BinarySubject{
		Bytes:             data,
		DeclaredName:      name,
		DeclaredMediaType: mediaType,
		DeclaredSize:      int64(len(data)),
		Category:          types.CategoryImage,
	}
}

// worst returns the highest severity reported per kind.
func worst(findings []threat.Finding) map[threat.RuleKind]threat.Severity {
	m := make(map[threat.RuleKind]threat.Severity)
	for _, f := range findings {
		m[f.Kind] = threat.Max(m[f.Kind], f.Severity)
	}
	return m
}

func findRule(findings []threat.Finding, rule string) (threat.Finding, bool) {
	for _, f := range findings {
		if f.Rule == rule {
			return f, true
		}
	}
	return threat.Finding{}, false
}
