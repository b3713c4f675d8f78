package text

import (
	"reflect"
	"strings"
	"testing"
	"unicode"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                         "",
		"   ":                      "",
		"Hello\n\n  world\t!":      "Hello world !",
		"  Привет,\r\nмир.  ":      "Привет, мир.",
		"a\u00a0b":                 "a b",
		"no-change. Already fine.": "no-change. Already fine.",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotentAndCollapsed(t *testing.T) {
	inputs := []string{
		"  one  two\n\nthree ",
		"\t\tПривет.\n Как дела?  ",
		"tail   ",
		"x",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Fatalf("not idempotent for %q: %q vs %q", in, once, twice)
		}
		if strings.Contains(once, "  ") {
			t.Fatalf("double space left in %q", once)
		}
		if strings.TrimSpace(once) != once {
			t.Fatalf("untrimmed output %q", once)
		}
	}
}

func TestSplitBoundaryCases(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello. World", []string{"Hello.", "World"}},
		{"Wait... really?", []string{"Wait...", "really?"}},
		{"3.14 is pi", []string{"3.14 is pi"}},
		{"Stop?! Go", []string{"Stop?!", "Go"}},
		{"One, two: three - four", []string{"One,", "two:", "three -", "four"}},
		{"Дом — это крепость", []string{"Дом —", "это крепость"}},
		{"U.S. government", []string{"U.S.", "government"}},
		{"end.", []string{"end."}},
		{"Привет.\n\nКак дела?", []string{"Привет.", "Как дела?"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tc := range cases {
		got := Contents(Split(tc.in))
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Split(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitIndicesAreSequential(t *testing.T) {
	units := Split("a. b. c. d")
	for i, u := range units {
		if u.Index != i+1 {
			t.Fatalf("unit %d has index %d", i, u.Index)
		}
	}
}

func TestSplitPreservesContent(t *testing.T) {
	inputs := []string{
		"Hello.   World!  How are you?",
		"Она сказала: «нет» — и ушла... Потом, вернулась!",
		"3.14 is pi, e is 2.71. Done",
		"- dash first. ... dots only ... end",
		"no punctuation at all",
	}
	for _, in := range inputs {
		joined := strings.Join(Contents(Split(in)), " ")
		if Normalize(joined) != Normalize(in) {
			t.Fatalf("content changed for %q:\n got  %q\n want %q", in, Normalize(joined), Normalize(in))
		}
	}
}

func TestFilterDropsUnspeakable(t *testing.T) {
	units := []Unit{
		{Index: 1, Content: "..."},
		{Index: 2, Content: "Hello!"},
		{Index: 3, Content: "—"},
		{Index: 4, Content: "42"},
	}
	got := Filter(units, unicode.Cyrillic)
	if !reflect.DeepEqual(Contents(got), []string{"Hello!", "42"}) {
		t.Fatalf("unexpected filter result %q", Contents(got))
	}
	if got[0].Index != 2 || got[1].Index != 4 {
		t.Fatalf("indices renumbered: %+v", got)
	}
}

func TestFilterScript(t *testing.T) {
	if !Speakable("ёж", unicode.Cyrillic) {
		t.Fatal("expected cyrillic letters to be speakable")
	}
	if Speakable("ёж", unicode.Greek) {
		t.Fatal("expected cyrillic letters to be rejected for greek script")
	}
	if Speakable("«»…", unicode.Cyrillic) {
		t.Fatal("expected symbols to be unspeakable")
	}
}

func TestGroup(t *testing.T) {
	units := []Unit{
		{Index: 1, Content: "aaaa"},
		{Index: 2, Content: "bbbb"},
		{Index: 3, Content: "cccccccccccc"},
		{Index: 4, Content: "dd"},
	}
	got := Group(units, 10)
	want := []string{"aaaa bbbb", "cccccccccccc", "dd"}
	if !reflect.DeepEqual(Contents(got), want) {
		t.Fatalf("Group = %q, want %q", Contents(got), want)
	}
	for i, u := range got {
		if u.Index != i+1 {
			t.Fatalf("chunk %d has index %d", i, u.Index)
		}
	}
	if same := Group(units, 0); !reflect.DeepEqual(same, units) {
		t.Fatal("expected grouping disabled for maxChars 0")
	}
}
