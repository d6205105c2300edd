package identity

import (
	"reflect"
	"testing"
	"time"

	"github.com/joelkehle/neuro-digest/internal/feed"
)

func TestResolveMergesSharedDOI(t *testing.T) {
	batch := []feed.RawRecord{
		{
			Source:    "pubmed",
			Title:     "Early MRI Findings in Multiple Sclerosis",
			Abstract:  "Full abstract text from the first source.",
			Authors:   []string{"A Tanaka", "B Sato"},
			DOI:       "10.1001/xyz",
			PMID:      "38000001",
			Year:      2025,
			Published: time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC),
		},
		{
			Source:    "epmc",
			Title:     "Early MRI Findings in...",
			Abstract:  "Short.",
			Authors:   []string{"A Tanaka"},
			DOI:       "https://doi.org/10.1001/XYZ",
			Year:      2025,
			Published: time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC),
		},
	}

	out := NewResolver(0).Resolve(batch)
	if len(out) != 1 {
		t.Fatalf("expected 1 canonical record, got %d", len(out))
	}
	rec := out[0]
	if rec.Identity.Kind != KindDOI || rec.Identity.Value != "10.1001/xyz" {
		t.Errorf("identity = %+v, want doi 10.1001/xyz", rec.Identity)
	}
	if rec.Title != "Early MRI Findings in Multiple Sclerosis" {
		t.Errorf("title = %q, want the untruncated variant", rec.Title)
	}
	if rec.PMID != "38000001" {
		t.Errorf("pmid = %q, want the value from the richer record", rec.PMID)
	}
	if !rec.Published.Equal(time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("published = %v, want the earliest date", rec.Published)
	}
	if want := []string{"pubmed", "epmc"}; !reflect.DeepEqual(rec.Sources, want) {
		t.Errorf("sources = %v, want %v", rec.Sources, want)
	}
	if want := []string{"A Tanaka", "B Sato"}; !reflect.DeepEqual(rec.Authors, want) {
		t.Errorf("authors = %v, want %v", rec.Authors, want)
	}
	if rec.CollisionFlag {
		t.Error("a truncated variant of the same title must not flag a collision")
	}
}

func TestResolveBridgesDOIAndPMID(t *testing.T) {
	// One record carries only the DOI, one only the PMID; the third carries
	// both and bridges them into a single identity.
	batch := []feed.RawRecord{
		{Source: "epmc", Title: "Thrombectomy Outcomes in Basilar Occlusion", DOI: "10.1056/abc", Year: 2025},
		{Source: "rss", Title: "Thrombectomy Outcomes in Basilar Occlusion", PMID: "38000002", Year: 2025},
		{Source: "pubmed", Title: "Thrombectomy Outcomes in Basilar Occlusion", DOI: "10.1056/abc", PMID: "38000002", Year: 2025},
	}
	out := NewResolver(0).Resolve(batch)
	if len(out) != 1 {
		t.Fatalf("expected 1 canonical record, got %d", len(out))
	}
	if out[0].Identity.Kind != KindDOI {
		t.Errorf("identity kind = %v, want DOI to win over PMID", out[0].Identity.Kind)
	}
	if len(out[0].Sources) != 3 {
		t.Errorf("sources = %v, want all three", out[0].Sources)
	}
}

func TestResolveTitleYearFallback(t *testing.T) {
	batch := []feed.RawRecord{
		{Source: "pubmed", Title: "Novel Biomarkers of ALS Progression", PMID: "38000003", Year: 2025},
		{Source: "rss", Title: "Novel  Biomarkers of ALS Progression", Year: 2025},
	}
	out := NewResolver(0).Resolve(batch)
	if len(out) != 1 {
		t.Fatalf("a weak-ID record with matching title+year should attach, got %d records", len(out))
	}

	// Same title in a different year stays separate.
	batch[1].Year = 2024
	out = NewResolver(0).Resolve(batch)
	if len(out) != 2 {
		t.Fatalf("different years should not merge, got %d records", len(out))
	}
}

func TestResolveNeverMergesStrongIDsOnTitle(t *testing.T) {
	batch := []feed.RawRecord{
		{Source: "pubmed", Title: "Migraine Prophylaxis Trial Results", DOI: "10.1001/aaa", Year: 2025},
		{Source: "epmc", Title: "Migraine Prophylaxis Trial Results", DOI: "10.1001/bbb", Year: 2025},
	}
	out := NewResolver(0).Resolve(batch)
	if len(out) != 2 {
		t.Fatalf("distinct DOIs sharing a title must stay separate, got %d records", len(out))
	}
}

func TestResolveOrderIndependent(t *testing.T) {
	batch := []feed.RawRecord{
		{Source: "pubmed", Title: "Seizure Freedom After Laser Ablation", DOI: "10.1001/s1", PMID: "1", Year: 2025},
		{Source: "epmc", Title: "Seizure Freedom After Laser Ablation", DOI: "10.1001/s1", Year: 2025},
		{Source: "rss", Title: "Cortical Thickness in Early Parkinson Disease", DOI: "10.1001/s2", Year: 2025},
	}
	reversed := []feed.RawRecord{batch[2], batch[1], batch[0]}

	a := NewResolver(0).Resolve(batch)
	b := NewResolver(0).Resolve(reversed)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Identity != b[i].Identity {
			t.Errorf("record %d identity differs: %+v vs %+v", i, a[i].Identity, b[i].Identity)
		}
		if a[i].Title != b[i].Title {
			t.Errorf("record %d title differs: %q vs %q", i, a[i].Title, b[i].Title)
		}
	}
}

func TestResolveFlagsCollision(t *testing.T) {
	// Two genuinely different papers sharing a registered DOI by mistake.
	batch := []feed.RawRecord{
		{Source: "pubmed", Title: "Deep Brain Stimulation for Essential Tremor", DOI: "10.1001/dup", Year: 2025},
		{Source: "epmc", Title: "Gut Microbiome Changes After Bariatric Surgery", DOI: "10.1001/dup", Year: 2025},
	}
	out := NewResolver(0.35).Resolve(batch)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged record, got %d", len(out))
	}
	if !out[0].CollisionFlag {
		t.Fatal("dissimilar titles under one identity should set the collision flag")
	}
	if len(out[0].TitleVariants) != 2 {
		t.Errorf("title variants = %v, want both titles retained", out[0].TitleVariants)
	}
}
