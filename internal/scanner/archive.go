package scanner

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/pulseboard/sentinel/internal/threat"
)

var (
	zipLocalHeader     = []byte("PK\x03\x04")
	zipDirectoryHeader = []byte("PK\x01\x02")
	zipDirectoryEnd    = []byte("PK\x05\x06")
	zip64Locator       = []byte("PK\x06\x07")
	zip64DirectoryEnd  = []byte("PK\x06\x06")
)

const (
	directoryEndLen      = 22
	zip64LocatorLen      = 20
	zip64DirectoryEndLen = 56
	maxZipCommentLen     = 0xFFFF
)

// checkArchive looks for ZIP local headers past the signature window and
// inspects the directory of any archive it can open.
func (b *binaryScan) checkArchive() []threat.Finding {
	var out []threat.Finding

	// later local headers of a ZIP upload are its own entries
	isZip := bytes.HasPrefix(b.subject.Bytes, zipLocalHeader)
	embedded := false
	if !isZip && len(b.prefix) > b.limits.HeaderRegion {
		if i := bytes.Index(b.prefix[b.limits.HeaderRegion:], zipLocalHeader); i >= 0 {
			off := int64(i + b.limits.HeaderRegion)
			embedded = true
			out = append(out, threat.NewFinding(threat.EmbeddedArchive, threat.High,
				fmt.Sprintf("ZIP local file header at offset %d", off), threat.WithOffset(off)))
		}
	}

	declared := isZip || b.cat.IsContainerType(b.mediaType)
	if embedded || declared {
		out = append(out, b.inspectArchive(declared)...)
	}
	return out
}

// inspectArchive walks the central directory. Prepended data is tolerated
// by the reader, so embedded archives open the same way as plain ones.
// The entry count is taken from the end record first and the directory is
// never parsed when it may hold more than MaxArchiveEntries entries.
func (b *binaryScan) inspectArchive(declared bool) []threat.Finding {
	data := b.subject.Bytes
	end, ok := readDirectoryEnd(data)
	if !ok {
		if !declared {
			// a stray local header with no directory behind it
			return nil
		}
		return []threat.Finding{uninspectableArchive("no end of central directory record")}
	}

	limit := b.limits.MaxArchiveEntries
	if end.entries > uint64(limit) {
		return []threat.Finding{overLimitArchive(strconv.FormatUint(end.entries, 10), limit)}
	}
	// the reader keeps going while headers parse, whatever the end record says
	if n := bytes.Count(data[end.dirStart:end.dirEnd], zipDirectoryHeader); n > limit {
		return []threat.Finding{overLimitArchive("at least "+strconv.Itoa(n), limit)}
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && (zr == nil || len(zr.File) == 0) {
		return []threat.Finding{uninspectableArchive(err.Error())}
	}

	var out []threat.Finding
	for _, f := range zr.File {
		out = append(out, b.inspectEntry(f.Name)...)
	}
	return out
}

func overLimitArchive(count string, limit int) threat.Finding {
	return threat.NewFinding(threat.EmbeddedObject, threat.Critical,
		fmt.Sprintf("archive holds %s entries, more than the limit of %d; not inspected", count, limit))
}

func uninspectableArchive(reason string) threat.Finding {
	return threat.NewFinding(threat.EmbeddedObject, threat.High,
		"archive could not be inspected: "+reason)
}

// directoryEnd locates the central directory of a ZIP archive.
// dirStart and dirEnd are absolute offsets into the scanned bytes.
type directoryEnd struct {
	entries  uint64
	dirStart int
	dirEnd   int
}

// readDirectoryEnd finds the end of central directory record within the
// trailing comment window and follows the ZIP64 locator when the 16-bit
// fields overflow.
func readDirectoryEnd(data []byte) (directoryEnd, bool) {
	base := len(data) - directoryEndLen - maxZipCommentLen
	if base < 0 {
		base = 0
	}
	window := data[base:]
	limit := len(window)
	for {
		i := bytes.LastIndex(window[:limit], zipDirectoryEnd)
		if i < 0 {
			return directoryEnd{}, false
		}
		limit = i
		if i+directoryEndLen > len(window) {
			continue
		}
		rec := window[i : i+directoryEndLen]
		if i+directoryEndLen+int(binary.LittleEndian.Uint16(rec[20:])) > len(window) {
			continue
		}
		return parseDirectoryEnd(data, base+i, rec)
	}
}

func parseDirectoryEnd(data []byte, at int, rec []byte) (directoryEnd, bool) {
	entries := uint64(binary.LittleEndian.Uint16(rec[10:]))
	size := uint64(binary.LittleEndian.Uint32(rec[12:]))
	end := at

	if entries == 0xFFFF || size == 0xFFFFFFFF {
		if z, ok := readZip64End(data, at); ok {
			entries = binary.LittleEndian.Uint64(data[z+32:])
			size = binary.LittleEndian.Uint64(data[z+40:])
			end = z
		}
	}
	if size > uint64(end) {
		return directoryEnd{}, false
	}
	return directoryEnd{entries: entries, dirStart: end - int(size), dirEnd: end}, true
}

// readZip64End returns the offset of the ZIP64 end record referenced by the
// locator just before at. Prepended data shifts the recorded offset, so the
// record is also looked for directly before its locator.
func readZip64End(data []byte, at int) (int, bool) {
	loc := at - zip64LocatorLen
	if loc < 0 || !bytes.HasPrefix(data[loc:], zip64Locator) {
		return 0, false
	}
	candidates := []uint64{
		binary.LittleEndian.Uint64(data[loc+8:]),
		uint64(max(loc-zip64DirectoryEndLen, 0)),
	}
	for _, off := range candidates {
		if off+zip64DirectoryEndLen > uint64(loc) {
			continue
		}
		if bytes.HasPrefix(data[off:], zip64DirectoryEnd) {
			return int(off), true
		}
	}
	return 0, false
}

func (b *binaryScan) inspectEntry(name string) []threat.Finding {
	var out []threat.Finding
	slashed := strings.ReplaceAll(name, "\\", "/")

	if unsafeEntryPath(slashed) {
		out = append(out, threat.NewFinding(threat.PathTraversal, threat.High,
			"archive entry escapes the extraction root", threat.WithFragment(name)))
	}
	if ext := strings.TrimPrefix(path.Ext(slashed), "."); ext != "" && b.cat.IsExecutableExtension(ext) {
		out = append(out, threat.NewFinding(threat.DangerousExtension, threat.Critical,
			fmt.Sprintf("archive entry has executable extension .%s", strings.ToLower(ext)),
			threat.WithFragment(name)))
	}
	if pattern, ok := b.cat.SuspiciousArchiveEntry(slashed); ok {
		out = append(out, threat.NewFinding(threat.EmbeddedObject, threat.High,
			fmt.Sprintf("archive entry matches %s", pattern), threat.WithFragment(name)))
	}
	return out
}

func unsafeEntryPath(p string) bool {
	if strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return true
	}
	// drive-letter paths such as C:/Windows
	if len(p) >= 2 && p[1] == ':' {
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
