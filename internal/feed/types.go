package feed

import (
	"context"
	"time"
)

// RawRecord is one bibliographic record exactly as a single source reported
// it. Raw records are ephemeral: the identity resolver merges them into
// canonical records and drops them.
type RawRecord struct {
	Source      string
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
}

// Window is the publication-date range for one daily fetch. Adapters are
// restartable: fetching the same window twice is safe.
type Window struct {
	From time.Time
	To   time.Time
}

// Days returns the window length in whole days, minimum 1.
func (w Window) Days() int {
	d := int(w.To.Sub(w.From).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// Source fetches one finite batch of raw records for a window.
type Source interface {
	Name() string
	Fetch(ctx context.Context, window Window) ([]RawRecord, error)
}
