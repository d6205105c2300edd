package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	anthropicKeyEnv   = "ANTHROPIC_API_KEY"
	summaryModelEnv   = "NEURO_DIGEST_MODEL"
	maxSummariesEnv   = "NEURO_DIGEST_MAX_SUMMARIES"
	skipSummariesEnv  = "NEURO_DIGEST_SKIP_SUMMARIES"
	databasePathEnv   = "NEURO_DIGEST_DB"
	defaultModel      = "claude-sonnet-4-20250514"
	defaultTimezone   = "Asia/Tokyo"
	defaultTargetLang = "Japanese"
)

// Config is the full run configuration: sources, vocabulary, eligibility
// rules, and summarizer settings. Loaded once per run; never mutated by the
// pipeline.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Timezone   string           `yaml:"timezone"`
	Sources    SourcesConfig    `yaml:"sources"`
	Diseases   []Disease        `yaml:"diseases"`
	Sections   []Section        `yaml:"sections"`
	Journals   []Journal        `yaml:"journals"`
	Filter     FilterConfig     `yaml:"filter"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Identity   IdentityConfig   `yaml:"identity"`

	location *time.Location
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourcesConfig lists the bibliographic sources to fetch from. Each source is
// independent: a failing source contributes an empty batch for the run.
type SourcesConfig struct {
	PubMed PubMedConfig `yaml:"pubmed"`
	EPMC   EPMCConfig   `yaml:"epmc"`
	Feeds  []FeedConfig `yaml:"feeds"`
}

type PubMedConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"baseUrl"`
	MaxResults         int    `yaml:"maxResults"`
	RateLimitPerSecond int    `yaml:"rateLimitPerSecond"`
}

type EPMCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"baseUrl"`
	PageSize int    `yaml:"pageSize"`
}

// FeedConfig describes one journal table-of-contents RSS/Atom feed.
type FeedConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Language      string `yaml:"language"`
	ScrapeSummary bool   `yaml:"scrapeSummary"`
}

// Disease is one controlled-vocabulary entry. Declaration order is
// significant: classifier output is sorted by it.
type Disease struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
}

// Section is one review-section vocabulary entry. Sections route records into
// the clinical review structure (epidemiology, diagnosis, ...) on the rendered
// pages; declaration order decides which keyword match wins.
type Section struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Journal carries an impact-factor reference value for display. The value is
// lookup-only and never used to filter records.
type Journal struct {
	Name         string   `yaml:"name"`
	Aliases      []string `yaml:"aliases"`
	ImpactFactor float64  `yaml:"impactFactor"`
}

// FilterConfig holds the eligibility keyword lists.
type FilterConfig struct {
	AnimalTerms      []string `yaml:"animalTerms"`
	NonStudyTerms    []string `yaml:"nonStudyTerms"`
	StudyPubTypes    []string `yaml:"studyPubTypes"`
	NonStudyPubTypes []string `yaml:"nonStudyPubTypes"`
}

type SummarizerConfig struct {
	Model          string   `yaml:"model"`
	APIKey         string   `yaml:"-"`
	Sections       []string `yaml:"sections"`
	TargetLanguage string   `yaml:"targetLanguage"`
	TargetChars    int      `yaml:"targetChars"`
	ShortChars     int      `yaml:"shortChars"`
	MaxPerRun      int      `yaml:"maxPerRun"`
	MaxAttempts    int      `yaml:"maxAttempts"`
	Concurrency    int      `yaml:"concurrency"`
	Skip           bool     `yaml:"-"`
}

// IdentityConfig tunes the title-similarity cutoff below which two records
// grouped under one identity are flagged as a probable collision.
type IdentityConfig struct {
	CollisionThreshold float64 `yaml:"collisionThreshold"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if len(cfg.Diseases) == 0 {
		return cfg, fmt.Errorf("config: disease vocabulary is empty")
	}
	for _, d := range cfg.Diseases {
		if strings.TrimSpace(d.ID) == "" || len(d.Terms) == 0 {
			return cfg, fmt.Errorf("config: disease %q needs an id and at least one term", d.Name)
		}
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv(databasePathEnv)); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(anthropicKeyEnv)); v != "" {
		c.Summarizer.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(summaryModelEnv)); v != "" {
		c.Summarizer.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(maxSummariesEnv)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Summarizer.MaxPerRun = n
		}
	}
	if os.Getenv(skipSummariesEnv) == "1" {
		c.Summarizer.Skip = true
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "neuro-digest.db"
	}
	if c.Sources.PubMed.BaseURL == "" {
		c.Sources.PubMed.BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if c.Sources.PubMed.MaxResults <= 0 {
		c.Sources.PubMed.MaxResults = 200
	}
	if c.Sources.PubMed.RateLimitPerSecond <= 0 {
		// NCBI allows 3 req/s without an API key.
		c.Sources.PubMed.RateLimitPerSecond = 3
	}
	if c.Sources.EPMC.BaseURL == "" {
		c.Sources.EPMC.BaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"
	}
	if c.Sources.EPMC.PageSize <= 0 {
		c.Sources.EPMC.PageSize = 100
	}
	if c.Summarizer.Model == "" {
		c.Summarizer.Model = defaultModel
	}
	if len(c.Sections) == 0 {
		c.Sections = []Section{
			{ID: "epidemiology", Name: "Epidemiology", Keywords: []string{"epidemiology", "incidence", "prevalence", "risk factor"}},
			{ID: "diagnosis", Name: "Diagnosis", Keywords: []string{"diagnosis", "diagnostic", "biomarker", "screening", "criteria"}},
			{ID: "imaging", Name: "Imaging", Keywords: []string{"mri", "imaging", "tomography", "ultrasound"}},
			{ID: "treatment", Name: "Treatment", Keywords: []string{"treatment", "therapy", "trial", "efficacy"}},
			{ID: "prognosis", Name: "Prognosis", Keywords: []string{"prognosis", "outcome", "survival", "mortality"}},
		}
	}
	if len(c.Summarizer.Sections) == 0 {
		// The summary prompt mirrors the review-section structure.
		for _, s := range c.Sections {
			c.Summarizer.Sections = append(c.Summarizer.Sections, s.Name)
		}
	}
	if c.Summarizer.TargetLanguage == "" {
		c.Summarizer.TargetLanguage = defaultTargetLang
	}
	if c.Summarizer.TargetChars <= 0 {
		c.Summarizer.TargetChars = 300
	}
	if c.Summarizer.ShortChars <= 0 {
		c.Summarizer.ShortChars = 150
	}
	if c.Summarizer.MaxPerRun <= 0 {
		c.Summarizer.MaxPerRun = 50
	}
	if c.Summarizer.MaxAttempts <= 0 {
		c.Summarizer.MaxAttempts = 3
	}
	if c.Summarizer.Concurrency <= 0 {
		c.Summarizer.Concurrency = 4
	}
	if c.Identity.CollisionThreshold <= 0 {
		c.Identity.CollisionThreshold = 0.35
	}
	if len(c.Filter.AnimalTerms) == 0 {
		c.Filter.AnimalTerms = []string{
			"mouse model", "mice", "murine", "rat model", "rats", "zebrafish",
			"drosophila", "in vitro", "cell line", "cell culture", "rodent",
			"porcine", "canine model", "non-human primate",
		}
	}
	if len(c.Filter.NonStudyTerms) == 0 {
		c.Filter.NonStudyTerms = []string{
			"editorial", "erratum", "corrigendum", "retraction", "reply to",
			"letter to the editor", "author response", "comment on",
		}
	}
	if len(c.Filter.StudyPubTypes) == 0 {
		c.Filter.StudyPubTypes = []string{
			"journal article", "clinical trial", "randomized controlled trial",
			"observational study", "multicenter study", "meta-analysis",
		}
	}
	if len(c.Filter.NonStudyPubTypes) == 0 {
		c.Filter.NonStudyPubTypes = []string{
			"editorial", "letter", "comment", "news", "erratum", "retraction of publication",
		}
	}
}

// Location resolves the configured timezone; the run day boundary follows it.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	tz := c.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	c.location = loc
	return loc
}

// VocabularyTerms returns the union of all disease surface terms, used by
// source adapters to build search queries.
func (c *Config) VocabularyTerms() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, d := range c.Diseases {
		for _, t := range d.Terms {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			key := strings.ToLower(t)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ImpactFactor looks up a journal's reference impact factor by name or alias.
// Lookup-only: callers must not use it to filter records.
func (c *Config) ImpactFactor(journal string) (float64, bool) {
	j := strings.ToLower(strings.TrimSpace(journal))
	if j == "" {
		return 0, false
	}
	for _, item := range c.Journals {
		names := append([]string{item.Name}, item.Aliases...)
		for _, n := range names {
			if j == strings.ToLower(strings.TrimSpace(n)) {
				return item.ImpactFactor, true
			}
		}
	}
	return 0, false
}

func defaultConfig() Config {
	return Config{
		Timezone: defaultTimezone,
		Sources: SourcesConfig{
			PubMed: PubMedConfig{Enabled: true},
			EPMC:   EPMCConfig{Enabled: true},
		},
	}
}
