package identity

import "time"

// Summary lifecycle states carried on a canonical record.
const (
	SummaryDone    = "done"
	SummaryPending = "pending"
)

// CanonicalRecord is the merged, deduplicated unit of work: one real-world
// paper assembled from every raw record that resolved to the same identity.
// Created by the resolver, annotated by the eligibility filter, disease
// classifier, and summarizer gateway; once merged into the store it is never
// deleted.
type CanonicalRecord struct {
	Identity    Identity
	Title       string
	Abstract    string
	Authors     []string
	Journal     string
	Published   time.Time
	Year        int
	DOI         string
	PMID        string
	URL         string
	Language    string
	PubTypes    []string
	SpeciesTags []string
	Sources     []string

	// ImpactFactor is a journal reference value for display. Lookup-only:
	// it never affects filtering.
	ImpactFactor *float64

	// CollisionFlag marks a probable identity collision: two raw records
	// grouped under this identity with materially different titles. The
	// record is still published under the best-guess identity; TitleVariants
	// keeps the conflicting titles for manual review.
	CollisionFlag bool
	TitleVariants []string

	Eligible         bool
	ExclusionReasons []string

	Tags         []string
	Unclassified bool

	// Section is the review-section ID the record renders under on disease
	// pages (epidemiology, diagnosis, imaging, treatment, prognosis).
	Section string

	Summary       string
	SummaryShort  string
	SummaryStatus string
}
