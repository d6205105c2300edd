package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/identity"
)

// DefaultSection is the review section assigned when no section keyword
// matches.
const DefaultSection = "treatment"

// Classifier matches canonical records against the controlled disease
// vocabulary and the review-section vocabulary. Disease matching is
// case-insensitive and word-boundary-aware, so a short synonym like "MS"
// never fires inside "symptoms". Both vocabularies are data, compiled once
// per run; adding a disease or section needs no code change.
type Classifier struct {
	entries  []entry
	sections []config.Section
}

type entry struct {
	id       string
	patterns []*regexp.Regexp
}

func New(diseases []config.Disease, sections []config.Section) (*Classifier, error) {
	c := &Classifier{sections: sections, entries: make([]entry, 0, len(diseases))}
	for _, d := range diseases {
		e := entry{id: d.ID}
		for _, term := range d.Terms {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("compile term %q for disease %s: %w", term, d.ID, err)
			}
			e.patterns = append(e.patterns, re)
		}
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Match returns the IDs of every disease with at least one surface term
// present in title+abstract, in vocabulary declaration order. An empty result
// means the record is unclassified.
func (c *Classifier) Match(rec identity.CanonicalRecord) []string {
	text := rec.Title + " " + rec.Abstract
	var tags []string
	for _, e := range c.entries {
		for _, re := range e.patterns {
			if re.MatchString(text) {
				tags = append(tags, e.id)
				break
			}
		}
	}
	return tags
}

// Section returns the ID of the first review section with a keyword present
// in title+abstract, in declaration order. Records without a keyword match
// land in the treatment section, which carries the bulk of clinical papers.
func (c *Classifier) Section(rec identity.CanonicalRecord) string {
	text := strings.ToLower(rec.Title + " " + rec.Abstract)
	for _, s := range c.sections {
		for _, kw := range s.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return s.ID
			}
		}
	}
	return DefaultSection
}
