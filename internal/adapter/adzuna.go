package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/amishk599/jobpipe/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per (what, where) pair
)

// AdzunaPayload is one listing from the Adzuna search API. Descriptions are
// excerpts capped by the API at a few hundred characters.
type AdzunaPayload struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Company      adzunaCompany  `json:"company"`
	Location     adzunaLocation `json:"location"`
	SalaryMin    float64        `json:"salary_min"`
	SalaryMax    float64        `json:"salary_max"`
	RedirectURL  string         `json:"redirect_url"`
	Created      string         `json:"created"`
	ContractTime string         `json:"contract_time"`
	ContractType string         `json:"contract_type"`
}

// Source implements model.Payload.
func (AdzunaPayload) Source() model.Source { return model.SourceAggregator }

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string   `json:"display_name"`
	Area        []string `json:"area"`
}

type adzunaResponse struct {
	Results []AdzunaPayload `json:"results"`
	Count   int             `json:"count"`
}

// AdzunaAdapter queries the Adzuna search API for every (what, where) pair.
type AdzunaAdapter struct {
	appID   string
	appKey  string
	country string
	what    []string
	where   []string
	client  *http.Client
}

// NewAdzunaAdapter creates an adapter for one Adzuna country endpoint.
func NewAdzunaAdapter(appID, appKey, country string, what, where []string, client *http.Client) *AdzunaAdapter {
	return &AdzunaAdapter{
		appID:   appID,
		appKey:  appKey,
		country: country,
		what:    what,
		where:   where,
		client:  client,
	}
}

// FetchPayloads pages through every configured query. The same listing can
// come back under several queries; duplicates by id are dropped here.
func (a *AdzunaAdapter) FetchPayloads(ctx context.Context) ([]model.Payload, error) {
	if a.appID == "" || a.appKey == "" {
		return nil, fmt.Errorf("adzuna fetch for %s: app_id and app_key are required", a.country)
	}

	where := a.where
	if len(where) == 0 {
		where = []string{""}
	}

	seen := make(map[string]bool)
	var payloads []model.Payload
	for _, what := range a.what {
		for _, loc := range where {
			for page := 1; page <= adzunaMaxPages; page++ {
				batch, err := a.fetchPage(ctx, what, loc, page)
				if err != nil {
					return nil, err
				}
				for _, p := range batch {
					if seen[p.ID] {
						continue
					}
					seen[p.ID] = true
					payloads = append(payloads, p)
				}
				if len(batch) < adzunaPageSize {
					break
				}
			}
		}
	}
	return payloads, nil
}

func (a *AdzunaAdapter) fetchPage(ctx context.Context, what, where string, page int) ([]AdzunaPayload, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", adzunaBaseURL, a.country, page)

	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", what)
	if where != "" {
		params.Set("where", where)
	}
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("adzuna fetch for %s: %w", a.country, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adzuna fetch for %s: %w", a.country, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: model.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("adzuna fetch for %s page %d: unexpected status %d", a.country, page, resp.StatusCode),
		}
	}

	var apiResp adzunaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("adzuna fetch for %s: %w", a.country, err)
	}
	return apiResp.Results, nil
}
