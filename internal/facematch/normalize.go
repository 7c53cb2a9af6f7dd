package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics strips combining marks ("Nováková" -> "Novakova").
func FoldDiacritics(s string) string {
	out, _, err := transform.String(foldMarks, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizePersonName builds the lookup key stored with an identity: folded,
// lowercase, with dashes, underscores and dots read as spaces and runs of
// whitespace collapsed.
func NormalizePersonName(name string) string {
	name = strings.ToLower(FoldDiacritics(name))
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.'
	})
	return strings.Join(fields, " ")
}
