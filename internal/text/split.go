package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type scanState int

const (
	scanText scanState = iota
	scanPunct
)

// IsBoundaryPunct reports whether r belongs to the punctuation class that
// may end a unit: terminal marks, dashes, colon and comma. An ellipsis is
// a run of full stops and needs no separate case.
func IsBoundaryPunct(r rune) bool {
	switch r {
	case '.', '!', '?', '—', '–', '-', ':', ',':
		return true
	}
	return false
}

// Split breaks text into units. A boundary sits at the end of a maximal
// run of boundary punctuation that is immediately followed by whitespace;
// the run stays with the preceding unit and the whitespace is dropped.
// Punctuation that is not followed by whitespace (decimals, the end of
// the string) never splits. Abbreviations are not special: "U.S. Army"
// yields "U.S." and "Army".
func Split(s string) []Unit {
	s = Normalize(s)
	var (
		units []Unit
		state = scanText
		start = 0
	)
	emit := func(end int) {
		if frag := strings.TrimSpace(s[start:end]); frag != "" {
			units = append(units, Unit{Index: len(units) + 1, Content: frag})
		}
	}

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch state {
		case scanText:
			if IsBoundaryPunct(r) {
				state = scanPunct
			}
		case scanPunct:
			switch {
			case IsBoundaryPunct(r):
				// run continues
			case unicode.IsSpace(r):
				emit(i)
				for i < len(s) {
					r, size = utf8.DecodeRuneInString(s[i:])
					if !unicode.IsSpace(r) {
						break
					}
					i += size
				}
				start = i
				state = scanText
				continue
			default:
				state = scanText
			}
		}
		i += size
	}
	emit(len(s))
	return units
}
