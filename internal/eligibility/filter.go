package eligibility

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/joelkehle/neuro-digest/internal/config"
	"github.com/joelkehle/neuro-digest/internal/identity"
)

// Verdict is the eligibility outcome for one canonical record. Every failed
// check is recorded as a reason; excluded records are never silently dropped.
type Verdict struct {
	Eligible bool
	Reasons  []string
}

// Filter applies the three eligibility checks: English language, human
// subjects, and study-type. All three must pass.
type Filter struct {
	cfg config.FilterConfig
}

func New(cfg config.FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

func (f *Filter) Check(rec identity.CanonicalRecord) Verdict {
	v := Verdict{}
	if reason := f.checkLanguage(rec); reason != "" {
		v.Reasons = append(v.Reasons, reason)
	}
	if reason := f.checkHumanSubject(rec); reason != "" {
		v.Reasons = append(v.Reasons, reason)
	}
	if reason := f.checkStudyType(rec); reason != "" {
		v.Reasons = append(v.Reasons, reason)
	}
	v.Eligible = len(v.Reasons) == 0
	return v
}

// checkLanguage trusts an explicit source-provided language code; a record
// with a non-English code is always excluded regardless of title content.
// Without a code, a script heuristic over title+abstract decides.
func (f *Filter) checkLanguage(rec identity.CanonicalRecord) string {
	lang := strings.ToLower(strings.TrimSpace(rec.Language))
	if lang != "" {
		switch lang {
		case "en", "eng", "english":
			return ""
		default:
			return fmt.Sprintf("non-english language code %q", lang)
		}
	}
	if !mostlyLatinScript(rec.Title + " " + rec.Abstract) {
		return "non-latin script detected in title/abstract"
	}
	return ""
}

// mostlyLatinScript reports whether at least 90% of the letters are Latin.
func mostlyLatinScript(text string) bool {
	letters, latin := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.In(r, unicode.Latin) {
			latin++
		}
	}
	if letters == 0 {
		return true
	}
	return float64(latin)/float64(letters) >= 0.9
}

// checkHumanSubject uses source subject tags when present (MeSH-style
// "Humans"/"Animals" descriptors), else scans title+abstract for the
// configured animal-model exclusion terms.
func (f *Filter) checkHumanSubject(rec identity.CanonicalRecord) string {
	hasHumans, hasAnimals := false, false
	for _, tag := range rec.SpeciesTags {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case "humans":
			hasHumans = true
		case "animals":
			hasAnimals = true
		}
	}
	if hasHumans {
		return ""
	}
	if hasAnimals {
		return "subject tags report animals without humans"
	}

	text := strings.ToLower(rec.Title + " " + rec.Abstract)
	for _, term := range f.cfg.AnimalTerms {
		if strings.Contains(text, strings.ToLower(term)) {
			return fmt.Sprintf("animal-model term %q", term)
		}
	}
	return ""
}

// checkStudyType prefers source-provided publication types; a listed
// non-study type (editorial, letter, comment) excludes the record. Records
// without usable metadata fall back to a title keyword heuristic.
func (f *Filter) checkStudyType(rec identity.CanonicalRecord) string {
	sawStudyType := false
	for _, pt := range rec.PubTypes {
		p := strings.ToLower(strings.TrimSpace(pt))
		for _, bad := range f.cfg.NonStudyPubTypes {
			if p == strings.ToLower(bad) {
				return fmt.Sprintf("publication type %q is not a study report", pt)
			}
		}
		for _, good := range f.cfg.StudyPubTypes {
			if p == strings.ToLower(good) {
				sawStudyType = true
			}
		}
	}
	if sawStudyType {
		return ""
	}

	title := strings.ToLower(rec.Title)
	for _, term := range f.cfg.NonStudyTerms {
		if strings.Contains(title, strings.ToLower(term)) {
			return fmt.Sprintf("title keyword %q marks a non-study item", term)
		}
	}
	return ""
}
