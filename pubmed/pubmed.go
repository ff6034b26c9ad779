package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	// DefaultMaxResults is the number of records returned when none is requested.
	DefaultMaxResults = 3
	// NoResultsMessage is the sentinel text returned for an empty search.
	NoResultsMessage = "No PubMed results found for that query."

	database       = "pubmed"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 200
)

// ErrNoResults is returned by Lookup when the search matched no records.
var ErrNoResults = errors.New("pubmed: no results")

// HTTPError is returned for a non-2xx E-utilities response.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("pubmed: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// APIKey raises the NCBI rate limit from 3 to 10 requests per second.
	APIKey string
	// Email and Tool identify the caller to NCBI.
	Email string
	Tool  string
	// RequestsPerSecond overrides the default rate; negative disables throttling.
	RequestsPerSecond float64
	CacheSize         int
	CacheTTL          time.Duration
	HTTPClient        *http.Client
}

// Client queries PubMed through E-utilities.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	cache   *expirable.LRU[string, []Article]
}

// NewClient creates a client; zero options fall back to the public endpoint
// and the NCBI default rate.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		BaseURL:   DefaultBaseURL,
		Tool:      "medmesh",
		CacheSize: 128,
		CacheTTL:  15 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	rps := opts.RequestsPerSecond
	if rps == 0 {
		rps = 3
		if opts.APIKey != "" {
			rps = 10
		}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	c := &Client{
		opts:    opts,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}
	if opts.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, []Article](opts.CacheSize, nil, opts.CacheTTL)
	}
	return c
}

// Lookup searches term and returns summaries for up to maxResults records in
// relevance order. It returns ErrNoResults when nothing matched.
func (c *Client) Lookup(ctx context.Context, term string, maxResults int) ([]Article, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	key := strconv.Itoa(maxResults) + "|" + strings.ToLower(strings.TrimSpace(term))
	if c.cache != nil {
		if articles, ok := c.cache.Get(key); ok {
			return articles, nil
		}
	}

	ids, err := c.Search(ctx, term, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoResults
	}

	articles, err := c.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(key, articles)
	}
	return articles, nil
}

// Search runs esearch and returns the matching PubMed IDs.
func (c *Client) Search(ctx context.Context, term string, maxResults int) ([]string, error) {
	q := url.Values{}
	q.Set("db", database)
	q.Set("term", term)
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("retmode", "json")

	var resp struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := c.get(ctx, "esearch.fcgi", q, &resp); err != nil {
		return nil, err
	}
	return resp.Result.IDList, nil
}

// Summaries runs esummary and returns one Article per id, in the given order.
// IDs missing from the response yield an Article with only the PMID set.
func (c *Client) Summaries(ctx context.Context, ids []string) ([]Article, error) {
	q := url.Values{}
	q.Set("db", database)
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "json")

	var resp struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := c.get(ctx, "esummary.fcgi", q, &resp); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(ids))
	for _, id := range ids {
		var doc summaryDoc
		if raw, ok := resp.Result[id]; ok {
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("pubmed: decode summary %s: %w", id, err)
			}
		}
		articles = append(articles, doc.article(id))
	}
	return articles, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if c.opts.APIKey != "" {
		q.Set("api_key", c.opts.APIKey)
	}
	if c.opts.Email != "" {
		q.Set("email", c.opts.Email)
	}
	if c.opts.Tool != "" {
		q.Set("tool", c.opts.Tool)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pubmed: rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("pubmed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pubmed: %s request failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pubmed: read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("pubmed: parse %s response: %w", endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
