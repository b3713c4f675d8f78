package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (r *Reader) readPlain(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", &ReadError{Path: path, Kind: KindBadPath, Err: err}
	}
	text, enc, err := DecodeText(data, r.encodings)
	if err != nil {
		return "", "", &ReadError{Path: path, Kind: KindEncoding, Err: err}
	}
	r.log.Debug("decoded plain text", slog.String("encoding", enc))
	return text, enc, nil
}

// DecodeText tries each candidate encoding in order and returns the
// first clean decoding together with the candidate's name. A decoding
// is clean when it produces no replacement characters.
func DecodeText(data []byte, candidates []string) (string, string, error) {
	var tried []string
	for _, name := range candidates {
		label := strings.ToLower(strings.TrimSpace(name))
		if label == "utf-8" || label == "utf8" {
			body := bytes.TrimPrefix(data, utf8BOM)
			if utf8.Valid(body) {
				return string(body), name, nil
			}
			tried = append(tried, name)
			continue
		}
		enc, err := htmlindex.Get(label)
		if err != nil {
			tried = append(tried, name+" (unknown)")
			continue
		}
		decoded, err := enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
			tried = append(tried, name)
			continue
		}
		return string(decoded), name, nil
	}
	return "", "", fmt.Errorf("no candidate encoding decoded the file cleanly (tried %s)", strings.Join(tried, ", "))
}
