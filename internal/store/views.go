package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/joelkehle/neuro-digest/internal/identity"
	"github.com/joelkehle/neuro-digest/internal/summarize"
)

var sb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const recordColumns = `r.identity, r.title, r.abstract, r.authors, r.journal, r.published, r.year,
	r.doi, r.pmid, r.url, r.language, r.sources, r.impact_factor, r.collision, r.title_variants,
	r.eligible, r.exclusion_reasons, r.unclassified, r.section, r.summary, r.summary_short, r.summary_status, r.first_seen_day`

// DailyView returns every record processed on the given day, eligible or not,
// ordered most-recent publication first with identity as the deterministic
// tie-break. Ready for direct rendering by the page composer.
func (s *Store) DailyView(day string) ([]identity.CanonicalRecord, error) {
	query := sb.Select(recordColumns).
		From("records r").
		Join("daily_entries d ON d.identity = r.identity").
		Where(sq.Eq{"d.day": day}).
		OrderBy("r.published DESC", "r.identity ASC")
	return s.selectRecords(query)
}

// DiseaseView returns the cumulative per-disease view: eligible, classified
// records carrying the tag, deduplicated across all days by identity.
func (s *Store) DiseaseView(tag string) ([]identity.CanonicalRecord, error) {
	query := sb.Select(recordColumns).
		From("records r").
		Join("record_tags t ON t.identity = r.identity").
		Where(sq.Eq{"t.tag": tag}).
		Where(sq.Eq{"r.eligible": 1}).
		OrderBy("r.published DESC", "r.identity ASC")
	return s.selectRecords(query)
}

// RecordsBetween is the date range query: records first seen in [from, to].
func (s *Store) RecordsBetween(from, to string) ([]identity.CanonicalRecord, error) {
	query := sb.Select(recordColumns).
		From("records r").
		Where(sq.GtOrEq{"r.first_seen_day": from}).
		Where(sq.LtOrEq{"r.first_seen_day": to}).
		OrderBy("r.published DESC", "r.identity ASC")
	return s.selectRecords(query)
}

func (s *Store) selectRecords(query sq.SelectBuilder) ([]identity.CanonicalRecord, error) {
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []recordRow
	if err := s.db.Select(&rows, sqlText, args...); err != nil {
		return nil, err
	}

	out := make([]identity.CanonicalRecord, 0, len(rows))
	for _, row := range rows {
		tags, err := s.recordTags(row.Identity)
		if err != nil {
			return nil, err
		}
		out = append(out, row.toRecord(tags))
	}
	return out, nil
}

func (s *Store) recordTags(key string) ([]string, error) {
	var tags []string
	err := s.db.Select(&tags, `SELECT tag FROM record_tags WHERE identity = ? ORDER BY position, tag`, key)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// Summary implements summarize.Cache: lookup by canonical identity so a
// record summarized on a prior day never triggers a second collaborator call.
func (s *Store) Summary(id identity.Identity) (summarize.CachedSummary, bool, error) {
	var row struct {
		Summary      string `db:"summary"`
		SummaryShort string `db:"summary_short"`
	}
	err := s.db.Get(&row, `SELECT summary, summary_short FROM summaries WHERE identity = ?`, id.Key())
	if errors.Is(err, sql.ErrNoRows) {
		return summarize.CachedSummary{}, false, nil
	}
	if err != nil {
		return summarize.CachedSummary{}, false, err
	}
	return summarize.CachedSummary{Text: row.Summary, Short: row.SummaryShort}, true, nil
}

// SaveSummary implements summarize.Cache.
func (s *Store) SaveSummary(id identity.Identity, cached summarize.CachedSummary) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO summaries (identity, summary, summary_short, created_at) VALUES (?, ?, ?, ?)`,
		id.Key(), cached.Text, cached.Short, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}
