package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/neuro-digest/internal/classify"
	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/eligibility"
	"github.com/joelkehle/neuro-digest/internal/feed"
	"github.com/joelkehle/neuro-digest/internal/identity"
	"github.com/joelkehle/neuro-digest/internal/summarize"
)

// RunLockTTL bounds how long a crashed run can block the next one.
const RunLockTTL = 2 * time.Hour

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

type ProgressFn func(stage, message string)

// Summarizer is the gateway surface the pipeline drives.
type Summarizer interface {
	SummarizeBatch(ctx context.Context, records []identity.CanonicalRecord) map[string]summarize.Result
}

// Store is the aggregation-store surface the pipeline drives. The store is
// mutated exactly once per run, in MergeBatch.
type Store interface {
	AcquireRunLock(owner string, ttl time.Duration) error
	ReleaseRunLock(owner string) error
	StartRun(runID, day string) error
	CompleteRun(runID string, records, eligible, summarized int) error
	MergeBatch(day string, records []identity.CanonicalRecord) error
}

// Result carries per-run counts for logging and the run audit row.
type Result struct {
	RunID        string
	Day          string
	Fetched      int
	Canonical    int
	Eligible     int
	Excluded     int
	Unclassified int
	Summarized   int
	Pending      int
	Collisions   int
	SourceErrors map[string]error
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Pipeline runs one daily batch end to end: fetch, resolve, filter, classify,
// summarize, merge. Stages operate on the full batch in order; the store is
// only touched in the final atomic merge, so an abort between stages discards
// the partial batch without corrupting persisted state.
type Pipeline struct {
	cfg        config.Config
	sources    []feed.Source
	resolver   *identity.Resolver
	filter     *eligibility.Filter
	classifier *classify.Classifier
	summarizer Summarizer
	store      Store
}

func New(cfg config.Config, sources []feed.Source, summarizer Summarizer, st Store) (*Pipeline, error) {
	classifier, err := classify.New(cfg.Diseases, cfg.Sections)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		sources:    sources,
		resolver:   identity.NewResolver(cfg.Identity.CollisionThreshold),
		filter:     eligibility.New(cfg.Filter),
		classifier: classifier,
		summarizer: summarizer,
		store:      st,
	}, nil
}

func (p *Pipeline) Run(ctx context.Context, day time.Time) (Result, error) {
	return p.RunWithProgress(ctx, day, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, day time.Time, progress ProgressFn) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		Day:       day.Format("2006-01-02"),
		StartedAt: time.Now(),
	}

	// Concurrent runs cannot both uphold the no-duplicate invariant, so a
	// held lock is fatal before any mutation.
	if err := p.store.AcquireRunLock(res.RunID, RunLockTTL); err != nil {
		return res, &StageError{Stage: "lock", Err: err}
	}
	defer func() {
		if err := p.store.ReleaseRunLock(res.RunID); err != nil {
			log.Printf("pipeline release_lock_failed run=%s err=%q", res.RunID, err.Error())
		}
	}()
	if err := p.store.StartRun(res.RunID, res.Day); err != nil {
		return res, &StageError{Stage: "lock", Err: err}
	}

	emit(progress, "fetch", "Fetching raw records from all sources...")
	window := feed.Window{From: day.AddDate(0, 0, -1), To: day}
	batch, sourceErrs := feed.FetchAll(ctx, p.sources, window)
	res.Fetched = len(batch)
	res.SourceErrors = sourceErrs
	if err := ctx.Err(); err != nil {
		return res, err
	}
	emit(progress, "fetch", fmt.Sprintf("Fetched %d raw records (%d sources failed)", len(batch), len(sourceErrs)))

	emit(progress, "resolve", "Resolving canonical identities...")
	records := p.resolver.Resolve(batch)
	res.Canonical = len(records)
	for i := range records {
		if records[i].CollisionFlag {
			res.Collisions++
		}
		if factor, ok := p.cfg.ImpactFactor(records[i].Journal); ok {
			f := factor
			records[i].ImpactFactor = &f
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	emit(progress, "resolve", fmt.Sprintf("%d canonical records (%d flagged collisions)", res.Canonical, res.Collisions))

	emit(progress, "filter", "Applying eligibility checks...")
	for i := range records {
		verdict := p.filter.Check(records[i])
		records[i].Eligible = verdict.Eligible
		records[i].ExclusionReasons = verdict.Reasons
		if verdict.Eligible {
			res.Eligible++
		} else {
			res.Excluded++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	emit(progress, "filter", fmt.Sprintf("%d eligible, %d excluded", res.Eligible, res.Excluded))

	emit(progress, "classify", "Matching disease vocabulary...")
	for i := range records {
		if !records[i].Eligible {
			continue
		}
		records[i].Tags = p.classifier.Match(records[i])
		records[i].Section = p.classifier.Section(records[i])
		if len(records[i].Tags) == 0 {
			records[i].Unclassified = true
			res.Unclassified++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	emit(progress, "classify", fmt.Sprintf("%d records unclassified", res.Unclassified))

	emit(progress, "summarize", "Requesting summaries...")
	eligible := make([]identity.CanonicalRecord, 0, res.Eligible)
	for _, rec := range records {
		if rec.Eligible {
			eligible = append(eligible, rec)
		}
	}
	summaries := p.summarizer.SummarizeBatch(ctx, eligible)
	for i := range records {
		if !records[i].Eligible {
			continue
		}
		outcome, ok := summaries[records[i].Identity.Key()]
		if !ok {
			outcome = summarize.Result{Status: identity.SummaryPending}
		}
		records[i].SummaryStatus = outcome.Status
		records[i].Summary = outcome.Text
		records[i].SummaryShort = outcome.Short
		if outcome.Status == identity.SummaryDone {
			res.Summarized++
		} else {
			res.Pending++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	emit(progress, "summarize", fmt.Sprintf("%d summarized, %d pending", res.Summarized, res.Pending))

	emit(progress, "merge", "Merging batch into the aggregation store...")
	if err := p.store.MergeBatch(res.Day, records); err != nil {
		return res, &StageError{Stage: "merge", Err: err}
	}
	if err := p.store.CompleteRun(res.RunID, res.Canonical, res.Eligible, res.Summarized); err != nil {
		return res, &StageError{Stage: "merge", Err: err}
	}
	res.CompletedAt = time.Now()
	emit(progress, "merge", fmt.Sprintf("Run complete in %s", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond)))
	return res, nil
}

func emit(progress ProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}
