// Package text turns raw document text into the ordered units that get
// synthesized one clip at a time.
package text

import "strings"

// Unit is one lexically delimited fragment of text. Index is 1-based and
// fixes the position of the unit's clip in the final audio.
type Unit struct {
	Index   int
	Content string
}

// Normalize collapses every run of whitespace, newlines included, into a
// single space and trims both ends. Nothing else is changed.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Contents returns the content of each unit in order.
func Contents(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Content
	}
	return out
}
