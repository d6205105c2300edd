package summarize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/identity"
)

// CachedSummary is a previously generated summary pair, keyed by canonical
// identity in the cache.
type CachedSummary struct {
	Text  string
	Short string
}

// Cache looks up and stores summaries by canonical identity. The aggregation
// store satisfies it; a cache hit skips the external call entirely.
type Cache interface {
	Summary(id identity.Identity) (CachedSummary, bool, error)
	SaveSummary(id identity.Identity, s CachedSummary) error
}

// Result is the per-record outcome: a finished summary, or pending when the
// collaborator failed after the retry budget or the record was skipped.
type Result struct {
	Status string
	Text   string
	Short  string
}

// Gateway requests bounded-length structured summaries from the external
// text-generation collaborator. Failures are isolated per record: one
// record's exhausted retries never abort the batch.
type Gateway struct {
	caller Caller
	cache  Cache
	cfg    config.SummarizerConfig

	sleep func(ctx context.Context, d time.Duration) error
}

func NewGateway(caller Caller, cache Cache, cfg config.SummarizerConfig) *Gateway {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Gateway{caller: caller, cache: cache, cfg: cfg, sleep: sleepCtx}
}

// callBudget is the per-batch spend cap. Only records that actually reach the
// collaborator consume it; cache hits and skips are free.
type callBudget struct {
	mu   sync.Mutex
	left int
}

func (b *callBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

// SummarizeBatch produces a result for every record, calling the collaborator
// concurrently up to the configured limit. At most MaxPerRun records get
// external calls per run; the rest publish as pending and are picked up by
// the cache on a later day.
func (g *Gateway) SummarizeBatch(ctx context.Context, records []identity.CanonicalRecord) map[string]Result {
	results := make(map[string]Result, len(records))
	var mu sync.Mutex
	budget := &callBudget{left: g.cfg.MaxPerRun}

	jobs := make(chan identity.CanonicalRecord)
	var wg sync.WaitGroup
	for w := 0; w < g.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				res := g.summarizeOne(ctx, rec, budget)
				mu.Lock()
				results[rec.Identity.Key()] = res
				mu.Unlock()
			}
		}()
	}

	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	return results
}

func (g *Gateway) summarizeOne(ctx context.Context, rec identity.CanonicalRecord, budget *callBudget) Result {
	if cached, ok, err := g.cache.Summary(rec.Identity); err != nil {
		log.Printf("summarize cache_lookup_failed key=%s err=%q", rec.Identity.Key(), err.Error())
	} else if ok {
		return Result{Status: identity.SummaryDone, Text: cached.Text, Short: cached.Short}
	}

	if g.cfg.Skip {
		return Result{Status: identity.SummaryPending}
	}
	if strings.TrimSpace(rec.Abstract) == "" {
		log.Printf("summarize no_abstract key=%s", rec.Identity.Key())
		return Result{Status: identity.SummaryPending}
	}
	if !budget.take() {
		log.Printf("summarize capped key=%s max_per_run=%d", rec.Identity.Key(), g.cfg.MaxPerRun)
		return Result{Status: identity.SummaryPending}
	}

	text, err := g.generateWithRetry(ctx, rec.Identity.Key(), g.buildPrompt(rec, g.cfg.TargetChars, true))
	if err != nil {
		log.Printf("summarize exhausted key=%s err=%q", rec.Identity.Key(), err.Error())
		return Result{Status: identity.SummaryPending}
	}

	// The short variant is best effort; the main summary alone is a success.
	short, err := g.generateWithRetry(ctx, rec.Identity.Key(), g.buildPrompt(rec, g.cfg.ShortChars, false))
	if err != nil {
		log.Printf("summarize short_variant_failed key=%s err=%q", rec.Identity.Key(), err.Error())
		short = ""
	}

	cached := CachedSummary{Text: text, Short: short}
	if err := g.cache.SaveSummary(rec.Identity, cached); err != nil {
		log.Printf("summarize cache_save_failed key=%s err=%q", rec.Identity.Key(), err.Error())
	}
	return Result{Status: identity.SummaryDone, Text: text, Short: short}
}

func (g *Gateway) buildPrompt(rec identity.CanonicalRecord, targetChars int, structured bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the following paper in %s in about %d characters.\n", g.cfg.TargetLanguage, targetChars)
	if structured {
		fmt.Fprintf(&sb, "Where the abstract supports it, organize the content in this order: %s.\n", strings.Join(g.cfg.Sections, ", "))
	} else {
		sb.WriteString("Write one self-contained passage with no section headings.\n")
	}
	sb.WriteString("Do not add any preamble.\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", rec.Title)
	fmt.Fprintf(&sb, "Abstract: %s\n", rec.Abstract)
	return sb.String()
}

func (g *Gateway) generateWithRetry(ctx context.Context, key, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		started := time.Now()
		out, err := g.caller.Generate(ctx, prompt)
		if err == nil {
			out = strings.TrimSpace(out)
			if out == "" {
				lastErr = errors.New("empty response")
			} else {
				log.Printf("summarize call_ok key=%s attempt=%d elapsed_ms=%d chars=%d", key, attempt, time.Since(started).Milliseconds(), len(out))
				return out, nil
			}
		} else {
			lastErr = err
		}
		class := classifyTransportError(lastErr)
		log.Printf("summarize call_failed key=%s attempt=%d class=%d elapsed_ms=%d err=%q", key, attempt, class, time.Since(started).Milliseconds(), lastErr.Error())
		if class == failureClient {
			return "", lastErr
		}
		if attempt < g.cfg.MaxAttempts {
			if err := g.sleep(ctx, backoffDelay(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", g.cfg.MaxAttempts, lastErr)
}

type failureClass int

const (
	failureTimeout failureClass = iota + 1
	failureRateLimit
	failureServer
	failureClient
)

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		switch {
		case strings.HasPrefix(m[1], "429"):
			return failureRateLimit
		case strings.HasPrefix(m[1], "5"):
			return failureServer
		case strings.HasPrefix(m[1], "4"):
			return failureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "overloaded"):
		return failureRateLimit
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
