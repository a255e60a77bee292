// Package textx contains tests for the text utilities.
package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  What   IS 2+2 ?  ":      "what is 2+2?",
		"Hello,world":              "hello, world",
		"a .b":                     "a. b",
		"Tabs\tand\nnewlines here": "tabs and newlines here",
		"trailing ; ":              "trailing;",
		"":                         "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentHash_StableUnderFormatting(t *testing.T) {
	a := ContentHash("What is 2+2?", "4", []string{"3", "4", "5", "6"})
	b := ContentHash("  what IS 2+2 ?  ", "4", []string{"5", "4", "6", "3"})
	if a != b {
		t.Fatalf("hash differs for equivalent questions: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("hash length = %d, want 16", len(a))
	}
}

func TestContentHash_DistinguishesContent(t *testing.T) {
	a := ContentHash("What is 2+2?", "4", []string{"3", "4", "5", "6"})
	b := ContentHash("What is 2+3?", "5", []string{"3", "4", "5", "6"})
	if a == b {
		t.Fatal("different questions should not collide")
	}
}

func TestCanonicalQuestion_OptionOrderIrrelevant(t *testing.T) {
	x := CanonicalQuestion("p", "a", []string{"B", "a", "D", "c"})
	y := CanonicalQuestion("p", "a", []string{"c", "D", "a", "B"})
	if x != y {
		t.Fatalf("canonical form depends on option order: %q vs %q", x, y)
	}
	if x != "p|a|a|b|c|d" {
		t.Fatalf("unexpected canonical form: %q", x)
	}
}
