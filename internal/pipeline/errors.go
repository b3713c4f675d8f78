package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-narrator/internal/assembly"
	"github.com/loqalabs/loqa-narrator/internal/document"
	"github.com/loqalabs/loqa-narrator/internal/synth"
	"github.com/loqalabs/loqa-narrator/internal/voice"
)

// PreconditionError means an external dependency is missing or broken and
// no run can succeed until the user fixes it.
type PreconditionError struct {
	Component string
	Remedy    string
	Err       error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// EmptyContentError means the document holds nothing to synthesize.
type EmptyContentError struct {
	Path string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("%s: no synthesizable text", e.Path)
}

// UnknownVoiceError rejects a request naming a voice outside the set.
type UnknownVoiceError struct {
	Voice string
}

func (e *UnknownVoiceError) Error() string {
	return fmt.Sprintf("unknown voice %q (available: %s)", e.Voice, strings.Join(voice.IDs(), ", "))
}

// Describe renders err as the single line shown to users.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var (
		pre   *PreconditionError
		read  *document.ReadError
		empty *EmptyContentError
		vo    *UnknownVoiceError
		syn   *synth.SynthesisError
		asm   *assembly.AssemblyError
	)
	switch {
	case errors.As(err, &pre):
		msg := fmt.Sprintf("%s is not available: %v", pre.Component, pre.Err)
		if pre.Remedy != "" {
			msg += ". " + firstLine(pre.Remedy)
		}
		return msg
	case errors.As(err, &read):
		return describeRead(read)
	case errors.As(err, &empty):
		return fmt.Sprintf("Nothing to read aloud in %s", empty.Path)
	case errors.As(err, &vo):
		return fmt.Sprintf("Unknown voice %q; choose one of %s", vo.Voice, strings.Join(voice.IDs(), ", "))
	case errors.As(err, &syn):
		return fmt.Sprintf("Speech synthesis failed on fragment %d (%q): %v", syn.Index, excerpt(syn.Content, 40), syn.Err)
	case errors.As(err, &asm):
		return fmt.Sprintf("Could not assemble the audio file: %v", asm.Err)
	case errors.Is(err, context.Canceled):
		return "Run aborted"
	case errors.Is(err, context.DeadlineExceeded):
		return "Run timed out"
	}
	return err.Error()
}

func describeRead(e *document.ReadError) string {
	switch e.Kind {
	case document.KindBadPath:
		return fmt.Sprintf("File not found: %s", e.Path)
	case document.KindUnsupportedFormat:
		return fmt.Sprintf("Unsupported file type %s (supported: %s)", e.Path, strings.Join(document.Extensions, ", "))
	case document.KindEncoding:
		return fmt.Sprintf("Could not decode %s with any known text encoding", e.Path)
	case document.KindHostUnavailable:
		return fmt.Sprintf("Reading %s needs a converter that is not installed: %v", e.Path, e.Err)
	case document.KindHostFailed:
		return fmt.Sprintf("The converter failed on %s: %v", e.Path, e.Err)
	case document.KindMalformed:
		return fmt.Sprintf("The document %s is damaged or not a valid file", e.Path)
	}
	return e.Error()
}

func excerpt(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
