package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/feed"
	"github.com/joelkehle/neuro-digest/internal/identity"
	"github.com/joelkehle/neuro-digest/internal/summarize"
)

type stubSource struct {
	name    string
	records []feed.RawRecord
	err     error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Fetch(context.Context, feed.Window) ([]feed.RawRecord, error) {
	return s.records, s.err
}

type stubSummarizer struct {
	results map[string]summarize.Result
	seen    []string
}

func (s *stubSummarizer) SummarizeBatch(_ context.Context, records []identity.CanonicalRecord) map[string]summarize.Result {
	out := map[string]summarize.Result{}
	for _, rec := range records {
		s.seen = append(s.seen, rec.Identity.Key())
		if res, ok := s.results[rec.Identity.Key()]; ok {
			out[rec.Identity.Key()] = res
		} else {
			out[rec.Identity.Key()] = summarize.Result{Status: identity.SummaryDone, Text: "要約"}
		}
	}
	return out
}

type stubStore struct {
	lockErr     error
	mergeErr    error
	lockOwner   string
	released    bool
	mergedDay   string
	merged      []identity.CanonicalRecord
	runStarted  bool
	runComplete bool
}

func (s *stubStore) AcquireRunLock(owner string, _ time.Duration) error {
	if s.lockErr != nil {
		return s.lockErr
	}
	s.lockOwner = owner
	return nil
}

func (s *stubStore) ReleaseRunLock(owner string) error {
	s.released = owner == s.lockOwner
	return nil
}

func (s *stubStore) StartRun(string, string) error { s.runStarted = true; return nil }

func (s *stubStore) CompleteRun(string, int, int, int) error { s.runComplete = true; return nil }

func (s *stubStore) MergeBatch(day string, records []identity.CanonicalRecord) error {
	if s.mergeErr != nil {
		return s.mergeErr
	}
	s.mergedDay = day
	s.merged = records
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Diseases: []config.Disease{
			{ID: "ms", Name: "Multiple sclerosis", Terms: []string{"multiple sclerosis"}},
			{ID: "stroke", Name: "Stroke", Terms: []string{"stroke"}},
		},
		Journals: []config.Journal{
			{Name: "The Lancet Neurology", ImpactFactor: 46.5},
		},
		Filter: config.FilterConfig{
			AnimalTerms:      []string{"mouse model"},
			NonStudyTerms:    []string{"editorial"},
			StudyPubTypes:    []string{"journal article"},
			NonStudyPubTypes: []string{"editorial"},
		},
		Identity: config.IdentityConfig{CollisionThreshold: 0.35},
	}
}

func rawRecord(source, title, doi string) feed.RawRecord {
	return feed.RawRecord{
		Source:    source,
		Title:     title,
		Abstract:  "A cohort of patients followed for two years.",
		Journal:   "The Lancet Neurology",
		DOI:       doi,
		Year:      2025,
		Language:  "eng",
		PubTypes:  []string{"Journal Article"},
		Published: time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC),
	}
}

func runDay() time.Time {
	return time.Date(2025, 8, 13, 0, 0, 0, 0, time.UTC)
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig()
	editorial := rawRecord("pubmed", "Editorial: thrombectomy coverage", "10.1/ed")
	editorial.PubTypes = []string{"Editorial"}
	sources := []feed.Source{
		&stubSource{name: "pubmed", records: []feed.RawRecord{
			rawRecord("pubmed", "Relapse Rates in Multiple Sclerosis", "10.1/ms"),
			editorial,
		}},
		&stubSource{name: "epmc", records: []feed.RawRecord{
			rawRecord("epmc", "Relapse Rates in Multiple Sclerosis", "10.1/ms"),
			rawRecord("epmc", "Gait Analysis in Healthy Adults", "10.1/other"),
		}},
	}
	summarizer := &stubSummarizer{}
	st := &stubStore{}

	p, err := New(cfg, sources, summarizer, st)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), runDay())
	if err != nil {
		t.Fatal(err)
	}

	if res.Day != "2025-08-13" || st.mergedDay != "2025-08-13" {
		t.Errorf("day = %q merged under %q", res.Day, st.mergedDay)
	}
	if res.Fetched != 4 || res.Canonical != 3 {
		t.Errorf("fetched=%d canonical=%d, want 4 raw merged to 3", res.Fetched, res.Canonical)
	}

	byKey := map[string]identity.CanonicalRecord{}
	for _, rec := range st.merged {
		byKey[rec.Identity.Key()] = rec
	}

	ms := byKey["doi:10.1/ms"]
	if !ms.Eligible {
		t.Errorf("ms record excluded: %v", ms.ExclusionReasons)
	}
	if len(ms.Tags) != 1 || ms.Tags[0] != "ms" {
		t.Errorf("ms tags = %v", ms.Tags)
	}
	if ms.Section == "" {
		t.Error("eligible record should carry a review section")
	}
	if ms.ImpactFactor == nil || *ms.ImpactFactor != 46.5 {
		t.Errorf("impact factor = %v, want attached from the journal table", ms.ImpactFactor)
	}
	if ms.SummaryStatus != identity.SummaryDone || ms.Summary != "要約" {
		t.Errorf("summary = %q status=%q", ms.Summary, ms.SummaryStatus)
	}

	// The editorial is excluded but still merged into the daily batch, and the
	// summarizer never sees it.
	ed := byKey["doi:10.1/ed"]
	if ed.Eligible {
		t.Error("editorial should be excluded")
	}
	if len(ed.ExclusionReasons) == 0 {
		t.Error("exclusion reasons missing")
	}
	for _, key := range summarizer.seen {
		if key == "doi:10.1/ed" {
			t.Error("excluded record reached the summarizer")
		}
	}

	// No vocabulary match: eligible but unclassified.
	other := byKey["doi:10.1/other"]
	if !other.Eligible || !other.Unclassified {
		t.Errorf("other record eligible=%v unclassified=%v", other.Eligible, other.Unclassified)
	}

	if res.Eligible != 2 || res.Excluded != 1 || res.Unclassified != 1 || res.Summarized != 2 {
		t.Errorf("counts = %+v", res)
	}
	if !st.runStarted || !st.runComplete || !st.released {
		t.Errorf("store lifecycle: started=%v complete=%v released=%v", st.runStarted, st.runComplete, st.released)
	}
}

func TestRunAbortsWhenLockHeld(t *testing.T) {
	lockErr := errors.New("another pipeline run is active")
	st := &stubStore{lockErr: lockErr}
	p, err := New(testConfig(), nil, &stubSummarizer{}, st)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), runDay())
	if !errors.Is(err, lockErr) {
		t.Fatalf("err = %v, want the lock error", err)
	}
	if StageNameFromError(err) != "lock" {
		t.Errorf("stage = %q", StageNameFromError(err))
	}
	if st.merged != nil {
		t.Error("no merge should happen when the lock is held")
	}
}

func TestRunSourceFailureIsNotFatal(t *testing.T) {
	sources := []feed.Source{
		&stubSource{name: "pubmed", err: errors.New("boom")},
		&stubSource{name: "epmc", records: []feed.RawRecord{
			rawRecord("epmc", "Stroke Outcomes Registry Report", "10.1/s"),
		}},
	}
	st := &stubStore{}
	p, err := New(testConfig(), sources, &stubSummarizer{}, st)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), runDay())
	if err != nil {
		t.Fatal(err)
	}
	if res.SourceErrors["pubmed"] == nil {
		t.Error("pubmed failure should be recorded")
	}
	if len(st.merged) != 1 {
		t.Errorf("merged = %d records, want the healthy source's record", len(st.merged))
	}
}

func TestRunCancelledContextDiscardsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sources := []feed.Source{
		&stubSource{name: "epmc", records: []feed.RawRecord{
			rawRecord("epmc", "Stroke Outcomes Registry Report", "10.1/s"),
		}},
	}
	st := &stubStore{}
	p, err := New(testConfig(), sources, &stubSummarizer{}, st)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(ctx, runDay())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if st.merged != nil {
		t.Error("cancelled run must not merge a partial batch")
	}
	if !st.released {
		t.Error("lock must be released on abort")
	}
}

func TestRunMergeFailure(t *testing.T) {
	st := &stubStore{mergeErr: errors.New("disk full")}
	p, err := New(testConfig(), []feed.Source{
		&stubSource{name: "epmc", records: []feed.RawRecord{
			rawRecord("epmc", "Stroke Outcomes Registry Report", "10.1/s"),
		}},
	}, &stubSummarizer{}, st)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), runDay())
	if err == nil {
		t.Fatal("expected merge failure")
	}
	if StageNameFromError(err) != "merge" {
		t.Errorf("stage = %q, want merge", StageNameFromError(err))
	}
	if !st.released {
		t.Error("lock must be released after a failed merge")
	}
}
