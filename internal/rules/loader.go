package rules

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pulseboard/sentinel/internal/fileutil"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Loader reads catalog files from the embedded builtin set and the user
// catalog directory.
type Loader struct {
	userDir string
}

// NewLoader creates a new catalog loader
func NewLoader(userDir string) *Loader {
	return &Loader{
		userDir: userDir,
	}
}

// DefaultUserCatalogDir returns the default user catalog directory
func DefaultUserCatalogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sentinel/catalog.d"
	}
	return filepath.Join(home, ".sentinel", "catalog.d")
}

// LoadBuiltin loads all embedded builtin catalog files in lexical order.
func (l *Loader) LoadBuiltin() ([]SourceFile, error) {
	var files []SourceFile

	log.Trace("Loading builtin catalog from embedded filesystem")

	err := fs.WalkDir(builtinFS, "builtin", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}

		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		sf, err := ParseCatalogFile(data, path, SourceBuiltin)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		log.Trace("  Loaded builtin file %s (%d text rules, %d content rules)",
			path, len(sf.File.TextRules), len(sf.File.ContentRules))
		files = append(files, sf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no builtin catalog files embedded")
	}
	return files, nil
}

// LoadUser loads every *.yaml file from the user catalog directory. Any
// unreadable or invalid file fails the whole load so a reload never
// publishes a partial catalog.
func (l *Loader) LoadUser() ([]SourceFile, error) {
	if l.userDir == "" {
		log.Trace("User catalog directory not configured, skipping")
		return nil, nil
	}

	entries, err := os.ReadDir(l.userDir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Trace("User catalog directory %s does not exist", l.userDir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var files []SourceFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(l.userDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		sf, err := ParseCatalogFile(data, path, SourceUser)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Trace("  Loaded user file %s", path)
		files = append(files, sf)
	}
	return files, nil
}

// ParseCatalogFile decodes and validates one catalog file. Unknown fields
// are rejected so typos in rule files surface immediately.
func ParseCatalogFile(data []byte, path string, source Source) (SourceFile, error) {
	var f CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return SourceFile{}, errors.New("empty catalog file")
		}
		return SourceFile{}, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := f.Validate(); err != nil {
		return SourceFile{}, err
	}
	return SourceFile{Path: path, Source: source, Data: data, File: f}, nil
}

// ValidateYAML parses content and compiles it on top of the builtin
// catalog, catching bad regexes and byte patterns as well as schema errors.
func (l *Loader) ValidateYAML(data []byte) error {
	sf, err := ParseCatalogFile(data, "inline", SourceCLI)
	if err != nil {
		return err
	}
	builtin, err := l.LoadBuiltin()
	if err != nil {
		return err
	}
	_, err = Compile(append(builtin, sf))
	return err
}

// AddCatalogFile copies a catalog file into the user directory
func (l *Loader) AddCatalogFile(srcPath string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to read source file: %w", err)
	}
	if err := l.ValidateYAML(data); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return l.WriteCatalogFile(filepath.Base(srcPath), data)
}

// WriteCatalogFile stores data as filename inside the user directory.
func (l *Loader) WriteCatalogFile(filename string, data []byte) (string, error) {
	if l.userDir == "" {
		return "", errors.New("user catalog directory not configured")
	}
	if !strings.HasSuffix(filename, ".yaml") {
		filename += ".yaml"
	}
	destPath, err := l.ValidatePathInDirectory(filename)
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteFileAtomic(destPath, data); err != nil {
		return "", fmt.Errorf("failed to write catalog file: %w", err)
	}
	return destPath, nil
}

// ValidateSafeFilename checks if a filename is safe (no path traversal)
// Returns the sanitized filename or an error
func ValidateSafeFilename(filename string) (string, error) {
	base := filepath.Base(filename)

	if base == "" || base == "." || base == ".." {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	if base != filename {
		return "", fmt.Errorf("path traversal detected in filename: %s", filename)
	}

	for _, r := range base {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.') {
			return "", fmt.Errorf("invalid character in filename: %c", r)
		}
	}

	return base, nil
}

// ValidatePathInDirectory checks if a path is safely within the user
// directory. Resolves symlinks to prevent symlink-based traversal.
func (l *Loader) ValidatePathInDirectory(filename string) (string, error) {
	safeFilename, err := ValidateSafeFilename(filename)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(l.userDir, safeFilename)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absUserDir, err := filepath.Abs(l.userDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user dir: %w", err)
	}

	if !strings.HasPrefix(absPath, absUserDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected: %s is outside %s", absPath, absUserDir)
	}

	if _, err := os.Lstat(fullPath); err == nil {
		realPath, err := filepath.EvalSymlinks(fullPath)
		if err == nil {
			absRealPath, err := filepath.Abs(realPath)
			if err != nil {
				return "", fmt.Errorf("failed to resolve symlink: %w", err)
			}
			if !strings.HasPrefix(absRealPath, absUserDir+string(os.PathSeparator)) {
				return "", fmt.Errorf("symlink points outside catalog directory")
			}
		}
	}

	return fullPath, nil
}

// RemoveCatalogFile removes a file from the user catalog directory
func (l *Loader) RemoveCatalogFile(filename string) error {
	path, err := l.ValidatePathInDirectory(filename)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// ListUserFiles returns the names of the user catalog files
func (l *Loader) ListUserFiles() ([]string, error) {
	if l.userDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.userDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".yaml") {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// GetUserDir returns the user catalog directory
func (l *Loader) GetUserDir() string {
	return l.userDir
}

// LoadBuiltinCatalog compiles the embedded catalog on its own.
func LoadBuiltinCatalog() (*Catalog, error) {
	files, err := NewLoader("").LoadBuiltin()
	if err != nil {
		return nil, err
	}
	return Compile(files)
}
