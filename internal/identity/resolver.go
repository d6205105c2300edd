package identity

import (
	"log"
	"sort"
	"strings"

	"github.com/joelkehle/neuro-digest/internal/feed"
)

// Resolver merges a batch of raw records into canonical records with unique
// identities. Resolution is a deterministic reduce over identity groups:
// given the same batch it produces the same output regardless of which source
// responded first.
type Resolver struct {
	collisionThreshold float64
}

func NewResolver(collisionThreshold float64) *Resolver {
	if collisionThreshold <= 0 {
		collisionThreshold = 0.35
	}
	return &Resolver{collisionThreshold: collisionThreshold}
}

// Resolve groups the batch by shared identifiers and merges each group into
// one canonical record. Records sharing a DOI or a PMID always land in the
// same group, even when one record carries only the PMID and another only the
// DOI of the same paper (a third record carrying both bridges them).
func (r *Resolver) Resolve(batch []feed.RawRecord) []CanonicalRecord {
	uf := newUnionFind(len(batch))

	doiOwner := map[string]int{}
	pmidOwner := map[string]int{}
	titleGroups := map[string][]int{}

	for i, rec := range batch {
		if doi := NormalizeDOI(rec.DOI); doi != "" {
			if prev, ok := doiOwner[doi]; ok {
				uf.union(prev, i)
			} else {
				doiOwner[doi] = i
			}
		}
		if pmid := strings.TrimSpace(rec.PMID); pmid != "" {
			if prev, ok := pmidOwner[pmid]; ok {
				uf.union(prev, i)
			} else {
				pmidOwner[pmid] = i
			}
		}
		if rec.Title != "" && rec.Year > 0 {
			key := titleYearKey(rec.Title, rec.Year)
			titleGroups[key] = append(titleGroups[key], i)
		}
	}

	// Title+year is only a fallback: a record without DOI and PMID merges
	// into a same-titled group, but two independently identified records are
	// never unioned on title alone.
	for _, members := range titleGroups {
		anchor := -1
		for _, i := range members {
			if hasStrongID(batch[i]) {
				anchor = i
				break
			}
		}
		for _, i := range members {
			if hasStrongID(batch[i]) {
				continue
			}
			if anchor >= 0 {
				uf.union(anchor, i)
			} else {
				uf.union(members[0], i)
			}
		}
	}

	groups := map[int][]int{}
	roots := []int{}
	for i := range batch {
		root := uf.find(i)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], i)
	}

	out := make([]CanonicalRecord, 0, len(roots))
	for _, root := range roots {
		members := groups[root]
		sort.Ints(members)
		out = append(out, r.merge(batch, members))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.Key() < out[j].Identity.Key() })
	return out
}

func hasStrongID(rec feed.RawRecord) bool {
	return NormalizeDOI(rec.DOI) != "" || strings.TrimSpace(rec.PMID) != ""
}

// merge reduces one identity group with explicit field rules: longest
// ungarbled title, earliest non-null date, union of authors and sources in
// first-seen order.
func (r *Resolver) merge(batch []feed.RawRecord, members []int) CanonicalRecord {
	rec := CanonicalRecord{}

	for _, i := range members {
		raw := batch[i]
		if rec.DOI == "" {
			rec.DOI = NormalizeDOI(raw.DOI)
		}
		if rec.PMID == "" {
			rec.PMID = strings.TrimSpace(raw.PMID)
		}
		if rec.URL == "" {
			rec.URL = raw.URL
		}
		if rec.Journal == "" {
			rec.Journal = raw.Journal
		}
		if rec.Language == "" {
			rec.Language = raw.Language
		}
		if len(raw.Abstract) > len(rec.Abstract) {
			rec.Abstract = raw.Abstract
		}
		if !raw.Published.IsZero() && (rec.Published.IsZero() || raw.Published.Before(rec.Published)) {
			rec.Published = raw.Published
		}
		if raw.Year > 0 && (rec.Year == 0 || raw.Year < rec.Year) {
			rec.Year = raw.Year
		}
		rec.Authors = appendMissing(rec.Authors, raw.Authors)
		rec.Sources = appendMissing(rec.Sources, []string{raw.Source})
		rec.PubTypes = appendMissing(rec.PubTypes, raw.PubTypes)
		rec.SpeciesTags = appendMissing(rec.SpeciesTags, raw.SpeciesTags)
	}

	rec.Title = bestTitle(batch, members)
	r.flagCollisions(&rec, batch, members)

	switch {
	case rec.DOI != "":
		rec.Identity = Identity{Kind: KindDOI, Value: rec.DOI}
	case rec.PMID != "":
		rec.Identity = Identity{Kind: KindPMID, Value: rec.PMID}
	default:
		rec.Identity = Identity{Kind: KindTitle, Value: titleYearKey(rec.Title, rec.Year)}
	}
	return rec
}

// bestTitle picks the longest variant that does not look truncated; if every
// variant is truncated, the longest one wins.
func bestTitle(batch []feed.RawRecord, members []int) string {
	best, bestAny := "", ""
	for _, i := range members {
		t := strings.TrimSpace(batch[i].Title)
		if t == "" {
			continue
		}
		if len(t) > len(bestAny) {
			bestAny = t
		}
		if !looksTruncated(t) && len(t) > len(best) {
			best = t
		}
	}
	if best != "" {
		return best
	}
	return bestAny
}

func looksTruncated(title string) bool {
	return strings.HasSuffix(title, "...") || strings.HasSuffix(title, "…")
}

// flagCollisions compares every member title against the chosen one. A
// variant below the similarity cutoff signals a probable identity collision;
// the record is kept under the merged identity but flagged for review rather
// than silently discarding a variant.
func (r *Resolver) flagCollisions(rec *CanonicalRecord, batch []feed.RawRecord, members []int) {
	for _, i := range members {
		t := strings.TrimSpace(batch[i].Title)
		if t == "" || t == rec.Title {
			continue
		}
		if TitleSimilarity(t, rec.Title) >= r.collisionThreshold {
			continue
		}
		if !rec.CollisionFlag {
			rec.CollisionFlag = true
			rec.TitleVariants = []string{rec.Title}
			log.Printf("identity collision_flagged key=%s title=%q variant=%q", rec.Identity.Key(), rec.Title, t)
		}
		rec.TitleVariants = appendMissing(rec.TitleVariants, []string{t})
	}
}

// TitleSimilarity is token-set Jaccard over normalized titles, with a prefix
// shortcut so a truncated variant of the same title scores 1.
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == nb {
		return 1
	}
	if na != "" && nb != "" && (strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na)) {
		return 1
	}
	setA := tokenSet(na)
	setB := tokenSet(nb)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

func appendMissing(dst []string, src []string) []string {
	for _, v := range src {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
