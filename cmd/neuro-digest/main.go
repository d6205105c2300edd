package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/feed"
	"github.com/joelkehle/neuro-digest/internal/pipeline"
	"github.com/joelkehle/neuro-digest/internal/store"
	"github.com/joelkehle/neuro-digest/internal/summarize"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	dateStr := flag.String("date", "", "Run day as YYYY-MM-DD (defaults to today in the configured timezone)")
	skipSummaries := flag.Bool("skip-summaries", false, "Publish all eligible records as pending without calling the summarizer")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("main dotenv_load_failed err=%q", err.Error())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *skipSummaries {
		cfg.Summarizer.Skip = true
	}

	day := time.Now().In(cfg.Location())
	if *dateStr != "" {
		day, err = time.ParseInLocation("2006-01-02", *dateStr, cfg.Location())
		if err != nil {
			log.Fatalf("invalid -date %q: %v", *dateStr, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	var caller summarize.Caller
	if !cfg.Summarizer.Skip {
		caller, err = summarize.NewAnthropicCaller(cfg.Summarizer.APIKey, cfg.Summarizer.Model)
		if err != nil {
			log.Fatalf("summarizer: %v", err)
		}
	}
	gateway := summarize.NewGateway(caller, st, cfg.Summarizer)

	p, err := pipeline.New(cfg, buildSources(cfg), gateway, st)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	log.Printf("main starting day=%s db=%s model=%s", day.Format("2006-01-02"), cfg.Database.Path, cfg.Summarizer.Model)
	res, err := p.RunWithProgress(ctx, day, func(stage, message string) {
		log.Printf("pipeline stage=%s %s", stage, message)
	})
	if err != nil {
		if errors.Is(err, store.ErrRunActive) {
			log.Fatalf("run aborted, lock held: %v", err)
		}
		log.Fatalf("run failed at stage %s: %v", pipeline.StageNameFromError(err), err)
	}
	log.Printf("main done run=%s records=%d eligible=%d summarized=%d pending=%d collisions=%d",
		res.RunID, res.Canonical, res.Eligible, res.Summarized, res.Pending, res.Collisions)
}

func buildSources(cfg config.Config) []feed.Source {
	var sources []feed.Source
	terms := cfg.VocabularyTerms()
	if cfg.Sources.PubMed.Enabled {
		sources = append(sources, feed.NewPubMedSource(cfg.Sources.PubMed, terms, nil))
	}
	if cfg.Sources.EPMC.Enabled {
		sources = append(sources, feed.NewEPMCSource(cfg.Sources.EPMC, terms, nil))
	}
	for _, fc := range cfg.Sources.Feeds {
		sources = append(sources, feed.NewFeedSource(fc, nil))
	}
	return sources
}
