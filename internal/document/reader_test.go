package document

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"golang.org/x/text/encoding/charmap"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newReader(t *testing.T, legacy string) *Reader {
	t.Helper()
	r, err := NewReader(config.ReaderConfig{
		Encodings:     []string{"utf-8", "windows-1251", "cp1251"},
		LegacyCommand: legacy,
	}, newLogger())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return r
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReadError, got %v", err)
	}
	if re.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, re.Kind, err)
	}
}

func TestReadPlainUTF8(t *testing.T) {
	path := writeFile(t, "book.txt", append([]byte{0xEF, 0xBB, 0xBF}, []byte("Привет. Как дела?")...))
	doc, err := newReader(t, "").Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Text != "Привет. Как дела?" {
		t.Fatalf("unexpected text %q", doc.Text)
	}
	if doc.Encoding != "utf-8" || doc.Format != FormatPlain {
		t.Fatalf("unexpected metadata %+v", doc)
	}
}

func TestReadPlainWindows1251(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("Съешь же ещё этих мягких булок")
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "legacy.txt", []byte(encoded))
	doc, err := newReader(t, "").Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Text != "Съешь же ещё этих мягких булок" {
		t.Fatalf("unexpected text %q", doc.Text)
	}
	if doc.Encoding != "windows-1251" {
		t.Fatalf("expected windows-1251, got %s", doc.Encoding)
	}
}

func TestDecodeTextFailure(t *testing.T) {
	// 0x98 is unassigned in windows-1251 and invalid as UTF-8.
	_, _, err := DecodeText([]byte{0x98, 0x98}, []string{"utf-8", "windows-1251"})
	if err == nil {
		t.Fatal("expected decode failure")
	}
	path := writeFile(t, "bad.txt", []byte{0x98, 0x98})
	_, err = newReader(t, "").Read(context.Background(), path)
	assertKind(t, err, KindEncoding)
}

func TestReadDocx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Первый абзац.</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> Продолжение</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
</w:body>
</w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	doc, err := newReader(t, "").Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read docx: %v", err)
	}
	want := "Первый абзац.\t Продолжение\nSecond paragraph"
	if doc.Text != want {
		t.Fatalf("unexpected docx text %q", doc.Text)
	}
	if doc.Format != FormatDocx {
		t.Fatalf("unexpected format %s", doc.Format)
	}
}

func TestReadDocxMalformed(t *testing.T) {
	path := writeFile(t, "broken.docx", []byte("not a zip"))
	_, err := newReader(t, "").Read(context.Background(), path)
	assertKind(t, err, KindMalformed)
}

func TestReadLegacyViaHostCommand(t *testing.T) {
	path := writeFile(t, "old.doc", []byte("converted text"))
	doc, err := newReader(t, "cat").Read(context.Background(), path)
	if err != nil {
		t.Fatalf("read legacy: %v", err)
	}
	if strings.TrimSpace(doc.Text) != "converted text" {
		t.Fatalf("unexpected text %q", doc.Text)
	}
}

func TestReadLegacyHostMissing(t *testing.T) {
	path := writeFile(t, "old.doc", []byte("x"))
	_, err := newReader(t, "definitely-not-installed-narrator-host").Read(context.Background(), path)
	assertKind(t, err, KindHostUnavailable)

	_, err = newReader(t, "").Read(context.Background(), path)
	assertKind(t, err, KindHostUnavailable)
}

func TestValidate(t *testing.T) {
	_, err := Validate("")
	assertKind(t, err, KindBadPath)

	_, err = Validate(filepath.Join(t.TempDir(), "missing.txt"))
	assertKind(t, err, KindBadPath)

	_, err = Validate(t.TempDir())
	assertKind(t, err, KindBadPath)

	path := writeFile(t, "notes.pdf", []byte("%PDF"))
	_, err = Validate(path)
	assertKind(t, err, KindUnsupportedFormat)
}

func TestDetectFormatCaseInsensitive(t *testing.T) {
	f, err := DetectFormat("REPORT.DOCX")
	if err != nil || f != FormatDocx {
		t.Fatalf("expected docx, got %s %v", f, err)
	}
}
