package analyzer

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var addressFolder = cases.Fold()

// NormalizeAddress reduces an address to the key used for caching and
// lookups: NFKC-normalized, case-folded, with punctuation separators
// dropped and whitespace collapsed.
func NormalizeAddress(address string) string {
	s := norm.NFKC.String(address)
	s = addressFolder.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', '#', ';':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
