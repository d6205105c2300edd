package eligibility

import (
	"testing"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/identity"
)

func testFilter() *Filter {
	return New(config.FilterConfig{
		AnimalTerms:      []string{"mouse model", "in vitro", "zebrafish"},
		NonStudyTerms:    []string{"editorial", "erratum", "reply to"},
		StudyPubTypes:    []string{"journal article", "clinical trial"},
		NonStudyPubTypes: []string{"editorial", "letter", "comment"},
	})
}

func TestCheckEligibleRecord(t *testing.T) {
	v := testFilter().Check(identity.CanonicalRecord{
		Title:       "Intravenous Thrombolysis Beyond the Window",
		Abstract:    "A multicenter cohort of patients treated after wake-up stroke.",
		Language:    "eng",
		PubTypes:    []string{"Journal Article"},
		SpeciesTags: []string{"Humans"},
	})
	if !v.Eligible {
		t.Fatalf("expected eligible, got reasons %v", v.Reasons)
	}
}

func TestCheckLanguageCodeAlwaysWins(t *testing.T) {
	// An explicit non-English code excludes even a fully Latin-script record.
	v := testFilter().Check(identity.CanonicalRecord{
		Title:    "Etude prospective sur la sclerose en plaques",
		Abstract: "Resume entierement en caracteres latins.",
		Language: "fre",
	})
	if v.Eligible {
		t.Fatal("non-english language code must exclude the record")
	}
	if len(v.Reasons) != 1 {
		t.Errorf("reasons = %v, want exactly the language reason", v.Reasons)
	}
}

func TestCheckScriptHeuristicWithoutCode(t *testing.T) {
	f := testFilter()
	v := f.Check(identity.CanonicalRecord{
		Title:    "脳卒中患者における再灌流療法の転帰",
		Abstract: "多施設共同研究の結果を報告する。",
	})
	if v.Eligible {
		t.Fatal("non-latin script without a language code must exclude")
	}

	v = f.Check(identity.CanonicalRecord{
		Title:    "Outcomes of reperfusion therapy in stroke",
		Abstract: "We report results of a multicenter study.",
	})
	if !v.Eligible {
		t.Fatalf("latin-script record should pass, got reasons %v", v.Reasons)
	}
}

func TestCheckHumanSubject(t *testing.T) {
	f := testFilter()

	v := f.Check(identity.CanonicalRecord{
		Title:       "Tau propagation in a transgenic mouse model",
		Language:    "eng",
		SpeciesTags: []string{"Animals"},
	})
	if v.Eligible {
		t.Fatal("animals-only subject tags must exclude")
	}

	// Humans tag overrides animal keywords in the text.
	v = f.Check(identity.CanonicalRecord{
		Title:       "Biomarker validation against mouse model data",
		Language:    "eng",
		PubTypes:    []string{"Journal Article"},
		SpeciesTags: []string{"Humans", "Animals"},
	})
	if !v.Eligible {
		t.Fatalf("humans tag should pass, got reasons %v", v.Reasons)
	}

	// Without tags, the keyword scan decides.
	v = f.Check(identity.CanonicalRecord{
		Title:    "Synaptic loss in a zebrafish screen",
		Language: "eng",
		PubTypes: []string{"Journal Article"},
	})
	if v.Eligible {
		t.Fatal("animal keyword without subject tags must exclude")
	}
}

func TestCheckStudyType(t *testing.T) {
	f := testFilter()

	v := f.Check(identity.CanonicalRecord{
		Title:    "Response to recent thrombectomy findings",
		Language: "eng",
		PubTypes: []string{"Letter"},
	})
	if v.Eligible {
		t.Fatal("letter publication type must exclude")
	}

	// No pub types at all: fall back to the title keyword heuristic.
	v = f.Check(identity.CanonicalRecord{
		Title:    "Erratum: dosing table in the phase 3 trial report",
		Language: "eng",
	})
	if v.Eligible {
		t.Fatal("erratum title keyword must exclude")
	}
}

func TestCheckCollectsAllReasons(t *testing.T) {
	v := testFilter().Check(identity.CanonicalRecord{
		Title:    "Editorial: in vitro models of epilepsy",
		Language: "deu",
	})
	if v.Eligible {
		t.Fatal("expected exclusion")
	}
	if len(v.Reasons) != 3 {
		t.Fatalf("reasons = %v, want all three checks recorded", v.Reasons)
	}
}
