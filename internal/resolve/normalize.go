// Package resolve maps free-text material labels and company names onto
// canonical identities.
package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists legal entity suffixes stripped during company name
// normalization. US forms plus the EU forms common in E-PRTR and CSR
// sources.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" PLC", " P.L.C.",
	" CO", " CO.",
	" GMBH", " G.M.B.H.",
	" AG", " A.G.",
	" SA", " S.A.", " S.A",
	" SARL", " S.A.R.L.",
	" SPA", " S.P.A.",
	" SRL", " S.R.L.",
	" BV", " B.V.",
	" NV", " N.V.",
	" AB", " A.B.",
	" AS", " A.S.", " A/S",
	" OY", " OYJ",
	" KK", " K.K.",
	" PTY", " PTY.",
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N} ]+`)

	// Strips combining marks after NFD decomposition, so "Müller" and
	// "Muller" normalize identically.
	diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// NormalizeCompany standardizes a company name for matching: diacritic
// fold, uppercase, strip one legal suffix, strip punctuation, collapse
// whitespace.
func NormalizeCompany(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(diacriticFold, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
		"/", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeLabel standardizes a material label for mapping lookups:
// lowercase, strip punctuation, collapse whitespace, and stem each token so
// plural and singular variants ("copper wires" / "copper wire") produce the
// same key. The same function is applied when mappings are stored and when
// labels are looked up, so the stemmed form never leaks into display names.
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return ""
	}

	label = punctRe.ReplaceAllString(label, " ")
	label = multiSpaceRe.ReplaceAllString(label, " ")
	label = strings.TrimSpace(label)

	tokens := strings.Split(label, " ")
	for i, tok := range tokens {
		if len(tok) > 3 {
			tokens[i] = english.Stem(tok, false)
		}
	}
	return strings.Join(tokens, " ")
}
