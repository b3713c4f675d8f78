// Package voice holds the fixed set of narration voices.
package voice

import (
	"fmt"
	"strings"
)

// Profile is a named synthesis configuration. Gender and Style are
// descriptive only; the model receives ID.
type Profile struct {
	ID     string `json:"id" yaml:"id"`
	Gender string `json:"gender" yaml:"gender"`
	Style  string `json:"style" yaml:"style"`
}

// Default is the voice used when none is selected.
const Default = "xenia"

var profiles = []Profile{
	{ID: "aidar", Gender: "male", Style: "calm, clear"},
	{ID: "baya", Gender: "female", Style: "energetic, bright"},
	{ID: "eugene", Gender: "male", Style: "deep, velvety"},
	{ID: "kseniya", Gender: "female", Style: "businesslike, confident"},
	{ID: "xenia", Gender: "female", Style: "soft, friendly"},
}

// All returns a copy of the available profiles in display order.
func All() []Profile {
	return append([]Profile(nil), profiles...)
}

// IDs lists the profile identifiers.
func IDs() []string {
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	return ids
}

// Lookup finds a profile by identifier, ignoring case and surrounding
// whitespace.
func Lookup(id string) (Profile, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// MustLookup is Lookup for identifiers known at compile time.
func MustLookup(id string) Profile {
	p, ok := Lookup(id)
	if !ok {
		panic(fmt.Sprintf("voice: unknown profile %q", id))
	}
	return p
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (%s; %s)", p.ID, p.Gender, p.Style)
}
