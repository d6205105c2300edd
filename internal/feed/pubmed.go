package feed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/joelkehle/neuro-digest/internal/config"
)

// PubMedSource fetches records from the NCBI E-utilities: an esearch call for
// the id list in the window, then one efetch call for the article XML.
type PubMedSource struct {
	cfg     config.PubMedConfig
	terms   []string
	client  *http.Client
	limiter *rate.Limiter
}

func NewPubMedSource(cfg config.PubMedConfig, terms []string, client *http.Client) *PubMedSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PubMedSource{
		cfg:     cfg,
		terms:   terms,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1),
	}
}

func (s *PubMedSource) Name() string { return "pubmed" }

func (s *PubMedSource) Fetch(ctx context.Context, window Window) ([]RawRecord, error) {
	ids, err := s.search(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}
	if len(ids) == 0 {
		return []RawRecord{}, nil
	}
	records, err := s.fetchArticles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("pubmed fetch: %w", err)
	}
	return records, nil
}

// buildQuery ORs all vocabulary terms and narrows to human English-language
// records at the source. The eligibility filter re-checks both downstream;
// the clauses here only keep the result set small.
func buildQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return "(" + strings.Join(quoted, " OR ") + ") AND humans[mesh] AND english[lang]"
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (s *PubMedSource) search(ctx context.Context, window Window) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", buildQuery(s.terms))
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(s.cfg.MaxResults))
	params.Set("reldate", strconv.Itoa(window.Days()))
	params.Set("datetype", "pdat")

	body, err := s.get(ctx, s.cfg.BaseURL+"/esearch.fcgi", params)
	if err != nil {
		return nil, err
	}
	var parsed esearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse esearch response: %w", err)
	}
	return parsed.ESearchResult.IDList, nil
}

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Title    string `xml:"ArticleTitle"`
			Abstract struct {
				Texts []string `xml:"AbstractText"`
			} `xml:"Abstract"`
			Journal struct {
				Title string `xml:"Title"`
				Issue struct {
					PubDate struct {
						Year  string `xml:"Year"`
						Month string `xml:"Month"`
						Day   string `xml:"Day"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			Authors []struct {
				LastName   string `xml:"LastName"`
				ForeName   string `xml:"ForeName"`
				Collective string `xml:"CollectiveName"`
			} `xml:"AuthorList>Author"`
			Language string   `xml:"Language"`
			PubTypes []string `xml:"PublicationTypeList>PublicationType"`
		} `xml:"Article"`
		MeshDescriptors []string `xml:"MeshHeadingList>MeshHeading>DescriptorName"`
	} `xml:"MedlineCitation"`
	Data struct {
		IDs []struct {
			Type  string `xml:"IdType,attr"`
			Value string `xml:",chardata"`
		} `xml:"ArticleIdList>ArticleId"`
	} `xml:"PubmedData"`
}

func (s *PubMedSource) fetchArticles(ctx context.Context, ids []string) ([]RawRecord, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")

	body, err := s.get(ctx, s.cfg.BaseURL+"/efetch.fcgi", params)
	if err != nil {
		return nil, err
	}
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse efetch response: %w", err)
	}

	out := make([]RawRecord, 0, len(set.Articles))
	for _, art := range set.Articles {
		rec := RawRecord{
			Source:      s.Name(),
			Title:       strings.TrimSpace(art.Citation.Article.Title),
			Abstract:    strings.TrimSpace(strings.Join(art.Citation.Article.Abstract.Texts, " ")),
			Journal:     strings.TrimSpace(art.Citation.Article.Journal.Title),
			PMID:        strings.TrimSpace(art.Citation.PMID),
			Language:    strings.TrimSpace(art.Citation.Article.Language),
			PubTypes:    art.Citation.Article.PubTypes,
			SpeciesTags: art.Citation.MeshDescriptors,
		}
		for _, a := range art.Citation.Article.Authors {
			name := strings.TrimSpace(a.ForeName + " " + a.LastName)
			if name == "" {
				name = strings.TrimSpace(a.Collective)
			}
			if name != "" {
				rec.Authors = append(rec.Authors, name)
			}
		}
		for _, id := range art.Data.IDs {
			if id.Type == "doi" {
				rec.DOI = strings.TrimSpace(id.Value)
			}
		}
		pd := art.Citation.Article.Journal.Issue.PubDate
		rec.Published, rec.Year = parsePubDate(pd.Year, pd.Month, pd.Day)
		if rec.PMID != "" {
			rec.URL = "https://pubmed.ncbi.nlm.nih.gov/" + rec.PMID + "/"
		}
		if rec.Title == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PubMedSource) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code: %d", res.StatusCode)
	}
	return body, nil
}

// parsePubDate handles PubMed's loose date fields: Month may be numeric or a
// three-letter name, Day may be absent.
func parsePubDate(year, month, day string) (time.Time, int) {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return time.Time{}, 0
	}
	m := parseMonth(month)
	if m == 0 {
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), y
	}
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil || d < 1 || d > 31 {
		d = 1
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), y
}

func parseMonth(s string) time.Month {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 12 {
		return time.Month(n)
	}
	if t, err := time.Parse("Jan", s); err == nil {
		return t.Month()
	}
	return 0
}
