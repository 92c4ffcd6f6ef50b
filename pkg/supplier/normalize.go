package supplier

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeMPN folds a part number into its canonical lookup form:
// Unicode NFKC (full-width digits and letters from Asian distributor
// exports collapse to ASCII), uppercase, and stripped of the separator
// noise customers paste in ("LM358-N " vs "lm358n"). The catalog join key
// and the enrichment:{mpn} lock key both use this form, so two spellings
// of the same part dedupe to one component.
func NormalizeMPN(raw string) string {
	folded := norm.NFKC.String(raw)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		case r == '+' || r == '#' || r == '/':
			// Meaningful in real MPNs (e.g. "ATMEGA328P-PU+" vs cut
			// tape suffixes); keep as-is.
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeManufacturer trims, NFKC-folds and uppercases a manufacturer
// name and collapses runs of whitespace to one space; "Texas Instruments"
// and "texas  instruments" map to the same key but distinct vendors never
// merge.
func NormalizeManufacturer(raw string) string {
	folded := norm.NFKC.String(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(strings.ToUpper(folded)), " ")
}
