package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/neuro-digest/internal/config"
)

// EPMCSource fetches records from the Europe PMC REST search endpoint.
type EPMCSource struct {
	cfg    config.EPMCConfig
	terms  []string
	client *http.Client
}

func NewEPMCSource(cfg config.EPMCConfig, terms []string, client *http.Client) *EPMCSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &EPMCSource{cfg: cfg, terms: terms, client: client}
}

func (s *EPMCSource) Name() string { return "epmc" }

type epmcResponse struct {
	ResultList struct {
		Result []epmcResult `json:"result"`
	} `json:"resultList"`
}

type epmcResult struct {
	PMID         string `json:"pmid"`
	DOI          string `json:"doi"`
	Title        string `json:"title"`
	AbstractText string `json:"abstractText"`
	JournalTitle string `json:"journalTitle"`
	AuthorString string `json:"authorString"`
	PubYear      string `json:"pubYear"`
	Language     string `json:"language"`
	FirstPubDate string `json:"firstPublicationDate"`
	PubTypeList  struct {
		PubType []string `json:"pubType"`
	} `json:"pubTypeList"`
	FullTextURLList struct {
		FullTextURL []struct {
			URL string `json:"url"`
		} `json:"fullTextUrl"`
	} `json:"fullTextUrlList"`
}

func (s *EPMCSource) Fetch(ctx context.Context, window Window) ([]RawRecord, error) {
	quoted := make([]string, 0, len(s.terms))
	for _, t := range s.terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	query := fmt.Sprintf(
		`(%s) AND (HAS_ABSTRACT:Y) AND (LANG:eng) AND (PUB_TYPE:"journal article") AND FIRST_PDATE:[%s TO %s]`,
		strings.Join(quoted, " OR "),
		window.From.Format("2006-01-02"),
		window.To.Format("2006-01-02"),
	)

	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "json")
	params.Set("pageSize", strconv.Itoa(s.cfg.PageSize))
	params.Set("resultType", "core")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("epmc search: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("epmc search: status code: %d", res.StatusCode)
	}

	var parsed epmcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse epmc response: %w", err)
	}

	out := make([]RawRecord, 0, len(parsed.ResultList.Result))
	for _, item := range parsed.ResultList.Result {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		rec := RawRecord{
			Source:   s.Name(),
			Title:    title,
			Abstract: strings.TrimSpace(item.AbstractText),
			Journal:  strings.TrimSpace(item.JournalTitle),
			DOI:      strings.TrimSpace(item.DOI),
			PMID:     strings.TrimSpace(item.PMID),
			Language: strings.TrimSpace(item.Language),
			PubTypes: item.PubTypeList.PubType,
			Authors:  splitAuthorString(item.AuthorString),
		}
		if rec.Language == "" {
			// The LANG:eng clause already constrains the result set.
			rec.Language = "eng"
		}
		rec.Published, rec.Year = parseEPMCDate(item.FirstPubDate, item.PubYear)
		if urls := item.FullTextURLList.FullTextURL; len(urls) > 0 {
			rec.URL = urls[0].URL
		}
		out = append(out, rec)
	}
	return out, nil
}

// splitAuthorString splits Europe PMC's "Surname A, Surname B." author string.
func splitAuthorString(s string) []string {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseEPMCDate(firstPubDate, pubYear string) (time.Time, int) {
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(firstPubDate)); err == nil {
		return t, t.Year()
	}
	if y, err := strconv.Atoi(strings.TrimSpace(pubYear)); err == nil {
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), y
	}
	return time.Time{}, 0
}
