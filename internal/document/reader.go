// Package document reads the text content of the supported source
// formats: plain text, .docx and legacy .doc.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/mattn/go-shellwords"
)

// Format tags the structure of a source document.
type Format string

const (
	FormatPlain  Format = "plain"
	FormatDocx   Format = "richtext-compound"
	FormatLegacy Format = "richtext-legacy"
)

// Extensions accepted by the reader, in picker order.
var Extensions = []string{".txt", ".docx", ".doc"}

// Document is the raw text of a source file.
type Document struct {
	Path     string
	Format   Format
	Text     string
	Encoding string
}

// ErrorKind classifies read failures.
type ErrorKind string

const (
	KindBadPath           ErrorKind = "bad-path"
	KindUnsupportedFormat ErrorKind = "unsupported-format"
	KindEncoding          ErrorKind = "encoding-failure"
	KindHostUnavailable   ErrorKind = "host-application-unavailable"
	KindHostFailed        ErrorKind = "host-application-failed"
	KindMalformed         ErrorKind = "malformed-document"
)

// ReadError reports why a document could not be read.
type ReadError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("read %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("read %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reader dispatches on file extension.
type Reader struct {
	encodings []string
	legacy    []string
	log       *slog.Logger
}

// NewReader builds a reader from configuration. An empty legacy command
// leaves .doc files unsupported at read time.
func NewReader(cfg config.ReaderConfig, log *slog.Logger) (*Reader, error) {
	var legacy []string
	if strings.TrimSpace(cfg.LegacyCommand) != "" {
		args, err := shellwords.NewParser().Parse(cfg.LegacyCommand)
		if err != nil {
			return nil, fmt.Errorf("parse legacy command: %w", err)
		}
		legacy = args
	}
	encodings := cfg.Encodings
	if len(encodings) == 0 {
		encodings = []string{"utf-8"}
	}
	return &Reader{
		encodings: encodings,
		legacy:    legacy,
		log:       log.With(slog.String("component", "document-reader")),
	}, nil
}

// DetectFormat maps a path's extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return FormatPlain, nil
	case ".docx":
		return FormatDocx, nil
	case ".doc":
		return FormatLegacy, nil
	}
	return "", &ReadError{Path: path, Kind: KindUnsupportedFormat, Err: fmt.Errorf("extension %q not one of %s", filepath.Ext(path), strings.Join(Extensions, ", "))}
}

// Validate checks that path names an existing regular file with a
// supported extension.
func Validate(path string) (Format, error) {
	if strings.TrimSpace(path) == "" {
		return "", &ReadError{Path: path, Kind: KindBadPath, Err: errors.New("no file selected")}
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", &ReadError{Path: path, Kind: KindBadPath, Err: err}
	}
	if info.IsDir() {
		return "", &ReadError{Path: path, Kind: KindBadPath, Err: errors.New("path is a directory")}
	}
	return DetectFormat(path)
}

// Read loads the document at path.
func (r *Reader) Read(ctx context.Context, path string) (Document, error) {
	format, err := Validate(path)
	if err != nil {
		return Document{}, err
	}
	r.log.Info("reading document", slog.String("path", path), slog.String("format", string(format)))

	doc := Document{Path: path, Format: format}
	switch format {
	case FormatPlain:
		doc.Text, doc.Encoding, err = r.readPlain(path)
	case FormatDocx:
		doc.Text, err = readDocx(path)
		doc.Encoding = "utf-8"
	case FormatLegacy:
		doc.Text, err = r.readLegacy(ctx, path)
		doc.Encoding = "utf-8"
	}
	if err != nil {
		return Document{}, err
	}
	r.log.Info("document read",
		slog.String("path", path),
		slog.String("encoding", doc.Encoding),
		slog.Int("chars", len([]rune(doc.Text))))
	return doc, nil
}
