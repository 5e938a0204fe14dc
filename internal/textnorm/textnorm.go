// Package textnorm folds complaint and clinic text into a comparable form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTable maps Turkish letters to their ASCII base and typographic
// apostrophes to the ASCII one. Applied after lowercasing, so dotless/dotted
// capital I are already lowered where Go's case tables allow.
var foldTable = strings.NewReplacer(
	"\u2019", "'",
	"\u2018", "'",
	"\u02bc", "'",
	"ç", "c",
	"ğ", "g",
	"ı", "i",
	"i̇", "i",
	"ö", "o",
	"ş", "s",
	"ü", "u",
	"â", "a",
	"î", "i",
	"û", "u",
)

// Normalize lowercases s, folds diacritics to their base letters and collapses
// whitespace runs into single spaces.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = foldTable.Replace(s)

	// transform chains carry state, so each call gets its own.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	return strings.Join(strings.Fields(s), " ")
}

// Tokenize normalizes s and splits it on anything that is not a letter or digit.
// Tokens of a single rune are dropped.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}
