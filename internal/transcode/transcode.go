// Package transcode wraps the external audio transcoder used to join
// clips into the final artifact.
package transcode

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no transcoder binary was found anywhere searched.
	ErrNotFound = errors.New("transcoder not found")
	// ErrNotFunctional means a binary was found but failed its version check.
	ErrNotFunctional = errors.New("transcoder not functional")
)

// Encoding selects the output codec, bitrate and container.
type Encoding struct {
	Codec     string
	Bitrate   string
	Container string
}

// Transcoder is the capability the assembly stage needs.
type Transcoder interface {
	Locate(ctx context.Context) (string, error)
	Concatenate(ctx context.Context, manifest, destination string, enc Encoding) error
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}
