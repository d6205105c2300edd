package feed

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubSource struct {
	name    string
	records []RawRecord
	err     error
	delay   time.Duration
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, _ Window) ([]RawRecord, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.records, s.err
}

func TestFetchAllDeterministicOrder(t *testing.T) {
	sources := []Source{
		// The slower source is listed first and must still come first in the
		// concatenated batch.
		&stubSource{name: "a", delay: 30 * time.Millisecond, records: []RawRecord{{Source: "a", Title: "A1"}}},
		&stubSource{name: "b", records: []RawRecord{{Source: "b", Title: "B1"}, {Source: "b", Title: "B2"}}},
	}
	out, errs := FetchAll(context.Background(), sources, Window{})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(out) != 3 {
		t.Fatalf("records = %d, want 3", len(out))
	}
	if out[0].Source != "a" || out[1].Source != "b" || out[2].Source != "b" {
		t.Errorf("order = [%s %s %s], want source order preserved", out[0].Source, out[1].Source, out[2].Source)
	}
}

func TestFetchAllPartialFailure(t *testing.T) {
	boom := errors.New("boom")
	sources := []Source{
		&stubSource{name: "a", err: boom},
		&stubSource{name: "b", records: []RawRecord{{Source: "b", Title: "B1"}}},
	}
	out, errs := FetchAll(context.Background(), sources, Window{})
	if len(out) != 1 || out[0].Source != "b" {
		t.Fatalf("records = %v, want only the healthy source", out)
	}
	if !errors.Is(errs["a"], boom) {
		t.Errorf("errs = %v, want the failure recorded under its source name", errs)
	}
}

func TestWindowDays(t *testing.T) {
	to := time.Date(2025, 8, 13, 0, 0, 0, 0, time.UTC)
	if got := (Window{From: to.AddDate(0, 0, -1), To: to}).Days(); got != 1 {
		t.Errorf("Days() = %d, want 1", got)
	}
	if got := (Window{From: to, To: to}).Days(); got != 1 {
		t.Errorf("zero-length window Days() = %d, want minimum 1", got)
	}
	if got := (Window{From: to.AddDate(0, 0, -7), To: to}).Days(); got != 7 {
		t.Errorf("Days() = %d, want 7", got)
	}
}
