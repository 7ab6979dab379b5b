package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scoutworks/cscout/internal/types"
)

// QualifierParams feed the search-qualifier grammar. Qualifier ordering is
// stable so identical inputs produce byte-identical query strings.
type QualifierParams struct {
	Query           string
	Days            int
	Stars           int
	MaxStars        int // 0 means open-ended (>=Stars)
	Language        string
	IncludeForks    bool
	IncludeArchived bool
	InReadme        bool
}

// BuildQuery renders the search string:
//
//	{query} stars:{low..high|>=low} pushed:>=YYYY-MM-DD archived:{bool}
//	[fork:false] [language:L] [in:readme]
func BuildQuery(p QualifierParams, today time.Time) string {
	parts := []string{strings.TrimSpace(p.Query)}

	if p.MaxStars > 0 {
		parts = append(parts, fmt.Sprintf("stars:%d..%d", p.Stars, p.MaxStars))
	} else {
		parts = append(parts, fmt.Sprintf("stars:>=%d", p.Stars))
	}

	cutoff := today.AddDate(0, 0, -p.Days)
	parts = append(parts, "pushed:>="+cutoff.Format("2006-01-02"))
	parts = append(parts, "archived:"+strconv.FormatBool(p.IncludeArchived))

	if !p.IncludeForks {
		parts = append(parts, "fork:false")
	}
	if p.Language != "" {
		parts = append(parts, "language:"+p.Language)
	}
	if p.InReadme {
		parts = append(parts, "in:readme")
	}
	return strings.Join(parts, " ")
}

// SearchRepo is one item from the search endpoint.
type SearchRepo struct {
	FullName        string    `json:"full_name"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	Topics          []string  `json:"topics"`
	Language        string    `json:"language"`
	License         *License  `json:"license"`
	PushedAt        time.Time `json:"pushed_at"`
	Archived        bool      `json:"archived"`
	Fork            bool      `json:"fork"`
}

// License is the license fragment GitHub attaches to search items.
type License struct {
	SPDXID string `json:"spdx_id"`
}

// ToRepo converts a search item to the stored entity.
func (r SearchRepo) ToRepo(runID string) *types.Repo {
	repo := &types.Repo{
		FullName:    r.FullName,
		Stars:       r.StargazersCount,
		Forks:       r.ForksCount,
		Topics:      r.Topics,
		Language:    r.Language,
		PushedAt:    r.PushedAt,
		Archived:    r.Archived,
		Fork:        r.Fork,
		LastSeenRun: runID,
	}
	if r.License != nil {
		repo.License = r.License.SPDXID
	}
	return repo
}

// SearchResult is the search endpoint envelope.
type SearchResult struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []SearchRepo `json:"items"`
}

// SearchRepositories pages the repository search endpoint. Draws from the
// search bucket.
func (c *Client) SearchRepositories(ctx context.Context, query string, page, perPage int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "updated")
	q.Set("order", "desc")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.Get(ctx, Request{
		Path:   "/search/repositories",
		Bucket: BucketSearch,
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	var result SearchResult
	if err := resp.JSON(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadmeContent is the raw README plus cache provenance.
type ReadmeContent struct {
	Body      []byte
	ETag      string
	SourceURL string
	FromCache bool
}

// Readme fetches the repository README verbatim. Draws from the core
// bucket. A 404 surfaces as *Error{Kind: KindHTTPStatus, Status: 404}; the
// pipeline treats that as "no README", not a failure.
func (c *Client) Readme(ctx context.Context, owner, name string) (*ReadmeContent, error) {
	resp, err := c.Get(ctx, Request{
		Path:   fmt.Sprintf("/repos/%s/%s/readme", owner, name),
		Accept: AcceptRaw,
		Bucket: BucketCore,
	})
	if err != nil {
		return nil, err
	}
	return &ReadmeContent{
		Body:      resp.Body,
		ETag:      resp.ETag,
		SourceURL: resp.URL,
		FromCache: resp.FromCache,
	}, nil
}

// rateLimitEnvelope mirrors GET /rate_limit.
type rateLimitEnvelope struct {
	Resources map[string]struct {
		Limit     int   `json:"limit"`
		Remaining int   `json:"remaining"`
		Reset     int64 `json:"reset"`
	} `json:"resources"`
}

// RateLimit snapshots the upstream quota state for the named resources.
func (c *Client) RateLimit(ctx context.Context, runID string) ([]*types.RateLimitSnapshot, error) {
	resp, err := c.Get(ctx, Request{
		Path:   "/rate_limit",
		Bucket: BucketCore,
	})
	if err != nil {
		return nil, err
	}
	var env rateLimitEnvelope
	if err := resp.JSON(&env); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	var snaps []*types.RateLimitSnapshot
	for _, resource := range []string{"core", "search"} {
		r, ok := env.Resources[resource]
		if !ok {
			continue
		}
		snaps = append(snaps, &types.RateLimitSnapshot{
			RunID:     runID,
			CreatedAt: now,
			Resource:  resource,
			Limit:     r.Limit,
			Remaining: r.Remaining,
			ResetAt:   time.Unix(r.Reset, 0).UTC(),
		})
	}
	return snaps, nil
}
