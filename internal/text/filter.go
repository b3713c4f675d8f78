package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Filter keeps the units that contain something speakable: an ASCII
// letter or digit, or a letter of script. Units made only of punctuation
// or symbols are dropped. Order and original indices are preserved.
func Filter(units []Unit, script *unicode.RangeTable) []Unit {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if Speakable(u.Content, script) {
			out = append(out, u)
		}
	}
	return out
}

// Speakable reports whether s holds at least one character the speech
// model can voice.
func Speakable(s string, script *unicode.RangeTable) bool {
	for _, r := range s {
		if r < utf8.RuneSelf {
			if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
				return true
			}
			continue
		}
		if script != nil && unicode.IsLetter(r) && unicode.Is(script, r) {
			return true
		}
	}
	return false
}

// Group packs consecutive units into chunks of at most maxChars runes,
// joined by single spaces. A unit longer than maxChars becomes a chunk of
// its own. Chunks are renumbered from 1. maxChars <= 0 returns units
// unchanged.
func Group(units []Unit, maxChars int) []Unit {
	if maxChars <= 0 {
		return units
	}
	var (
		chunks  []Unit
		current []string
		length  int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Unit{Index: len(chunks) + 1, Content: strings.Join(current, " ")})
		current = current[:0]
		length = 0
	}
	for _, u := range units {
		n := utf8.RuneCountInString(u.Content)
		sep := 0
		if len(current) > 0 {
			sep = 1
		}
		if len(current) > 0 && length+sep+n > maxChars {
			flush()
			sep = 0
		}
		current = append(current, u.Content)
		length += sep + n
	}
	flush()
	return chunks
}
