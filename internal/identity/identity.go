package identity

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind is the identifier class an identity was derived from, in precedence
// order: DOI, then PMID, then normalized title+year.
type Kind string

const (
	KindDOI   Kind = "doi"
	KindPMID  Kind = "pmid"
	KindTitle Kind = "title"
)

// Identity is the immutable canonical key for one real-world paper. Two raw
// records sharing a DOI or a PMID always resolve to the same Identity.
type Identity struct {
	Kind  Kind
	Value string
}

// Key is the stable string form used for store keys and cache lookups.
func (id Identity) Key() string { return string(id.Kind) + ":" + id.Value }

func (id Identity) IsZero() bool { return id.Value == "" }

// ParseKey is the inverse of Key.
func ParseKey(key string) Identity {
	kind, value, ok := strings.Cut(key, ":")
	if !ok {
		return Identity{}
	}
	return Identity{Kind: Kind(kind), Value: value}
}

// NormalizeDOI lower-cases a DOI and strips resolver URL and scheme prefixes,
// so every citation form of the same DOI produces one key.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{
		"https://doi.org/", "http://doi.org/",
		"https://dx.doi.org/", "http://dx.doi.org/",
		"doi:",
	} {
		d = strings.TrimPrefix(d, prefix)
	}
	return strings.TrimSpace(d)
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle lower-cases, folds diacritics, replaces punctuation with
// spaces, and collapses whitespace. Formatting variants of the same title
// normalize to the same string.
func NormalizeTitle(title string) string {
	folded, _, err := transform.String(foldTransformer, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// titleYearKey is the fallback grouping key for records without DOI or PMID.
func titleYearKey(title string, year int) string {
	return NormalizeTitle(title) + "|" + strconv.Itoa(year)
}
