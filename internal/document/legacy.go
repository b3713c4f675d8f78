package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// readLegacy runs the configured host application with the document path
// appended and takes its stdout as UTF-8 text.
func (r *Reader) readLegacy(ctx context.Context, path string) (string, error) {
	if len(r.legacy) == 0 {
		return "", &ReadError{Path: path, Kind: KindHostUnavailable, Err: errors.New("no legacy document command configured")}
	}
	bin, err := exec.LookPath(r.legacy[0])
	if err != nil {
		return "", &ReadError{Path: path, Kind: KindHostUnavailable, Err: err}
	}
	args := append(append([]string{}, r.legacy[1:]...), path)
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &ReadError{Path: path, Kind: KindHostFailed, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}
	if !utf8.Valid(stdout.Bytes()) {
		return "", &ReadError{Path: path, Kind: KindEncoding, Err: errors.New("host application output is not valid UTF-8")}
	}
	return stdout.String(), nil
}
