package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joelkehle/neuro-digest/internal/identity"
)

// MergeBatch merges one fully processed daily batch into the store in a
// single transaction. The merge is a set-union keyed by identity, not an
// append: re-running the same day with the same data changes nothing. A run
// aborted before this call leaves the store untouched.
func (s *Store) MergeBatch(day string, records []identity.CanonicalRecord) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range records {
		key := rec.Identity.Key()

		// Contributing sources accumulate across days. A run that only sees
		// the paper from one source must not drop provenance recorded by an
		// earlier run, so the stored set is read and unioned before the upsert.
		sources := rec.Sources
		var prior string
		switch err := tx.Get(&prior, `SELECT sources FROM records WHERE identity = ?`, key); {
		case err == nil:
			var existing []string
			unmarshalJSON(prior, &existing)
			sources = unionStrings(existing, rec.Sources)
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("read sources %s: %w", key, err)
		}

		if _, err := tx.Exec(`
			INSERT INTO records (
				identity, title, abstract, authors, journal, published, year,
				doi, pmid, url, language, sources, impact_factor,
				collision, title_variants, eligible, exclusion_reasons,
				unclassified, section, summary, summary_short, summary_status, first_seen_day
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET
				sources        = excluded.sources,
				collision      = records.collision OR excluded.collision,
				title_variants = CASE WHEN excluded.collision THEN excluded.title_variants ELSE records.title_variants END,
				section        = CASE WHEN excluded.section != '' THEN excluded.section ELSE records.section END,
				summary        = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE records.summary END,
				summary_short  = CASE WHEN excluded.summary_short != '' THEN excluded.summary_short ELSE records.summary_short END,
				summary_status = CASE WHEN excluded.summary != '' THEN excluded.summary_status ELSE records.summary_status END`,
			key, rec.Title, rec.Abstract, marshalJSON(rec.Authors), rec.Journal,
			timeToString(rec.Published), rec.Year, rec.DOI, rec.PMID, rec.URL,
			rec.Language, marshalJSON(sources), rec.ImpactFactor,
			boolToInt(rec.CollisionFlag), marshalJSON(rec.TitleVariants),
			boolToInt(rec.Eligible), marshalJSON(rec.ExclusionReasons),
			boolToInt(rec.Unclassified), rec.Section, rec.Summary, rec.SummaryShort,
			rec.SummaryStatus, day,
		); err != nil {
			return fmt.Errorf("merge record %s: %w", key, err)
		}

		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO daily_entries (day, identity) VALUES (?, ?)`,
			day, key,
		); err != nil {
			return fmt.Errorf("merge daily entry %s: %w", key, err)
		}

		for pos, tag := range rec.Tags {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO record_tags (identity, tag, position) VALUES (?, ?, ?)`,
				key, tag, pos,
			); err != nil {
				return fmt.Errorf("merge tag %s/%s: %w", key, tag, err)
			}
		}

		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO seen (identity, first_day) VALUES (?, ?)`,
			key, day,
		); err != nil {
			return fmt.Errorf("merge seen %s: %w", key, err)
		}
	}

	return tx.Commit()
}

type recordRow struct {
	Identity         string   `db:"identity"`
	Title            string   `db:"title"`
	Abstract         string   `db:"abstract"`
	Authors          string   `db:"authors"`
	Journal          string   `db:"journal"`
	Published        string   `db:"published"`
	Year             int      `db:"year"`
	DOI              string   `db:"doi"`
	PMID             string   `db:"pmid"`
	URL              string   `db:"url"`
	Language         string   `db:"language"`
	Sources          string   `db:"sources"`
	ImpactFactor     *float64 `db:"impact_factor"`
	Collision        int      `db:"collision"`
	TitleVariants    string   `db:"title_variants"`
	Eligible         int      `db:"eligible"`
	ExclusionReasons string   `db:"exclusion_reasons"`
	Unclassified     int      `db:"unclassified"`
	Section          string   `db:"section"`
	Summary          string   `db:"summary"`
	SummaryShort     string   `db:"summary_short"`
	SummaryStatus    string   `db:"summary_status"`
	FirstSeenDay     string   `db:"first_seen_day"`
}

func (r recordRow) toRecord(tags []string) identity.CanonicalRecord {
	rec := identity.CanonicalRecord{
		Identity:      identity.ParseKey(r.Identity),
		Title:         r.Title,
		Abstract:      r.Abstract,
		Journal:       r.Journal,
		Year:          r.Year,
		DOI:           r.DOI,
		PMID:          r.PMID,
		URL:           r.URL,
		Language:      r.Language,
		ImpactFactor:  r.ImpactFactor,
		CollisionFlag: r.Collision != 0,
		Eligible:      r.Eligible != 0,
		Unclassified:  r.Unclassified != 0,
		Section:       r.Section,
		Summary:       r.Summary,
		SummaryShort:  r.SummaryShort,
		SummaryStatus: r.SummaryStatus,
		Tags:          tags,
	}
	if r.Published != "" {
		rec.Published, _ = time.Parse(time.RFC3339Nano, r.Published)
	}
	unmarshalJSON(r.Authors, &rec.Authors)
	unmarshalJSON(r.Sources, &rec.Sources)
	unmarshalJSON(r.TitleVariants, &rec.TitleVariants)
	unmarshalJSON(r.ExclusionReasons, &rec.ExclusionReasons)
	return rec
}

func marshalJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalJSON(s string, out *[]string) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

func unionStrings(old, add []string) []string {
	out := append([]string{}, old...)
	for _, v := range add {
		found := false
		for _, existing := range out {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
