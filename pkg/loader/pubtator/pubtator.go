// Package pubtator fetches BioC XML records from the PubTator3 export API and
// resolves literature queries to PMIDs through NCBI E-utilities.
package pubtator

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

	"github.com/pubgraph/backend/internal/util"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/logger"
	biocparser "github.com/pubgraph/backend/pkg/pubtator"
)

const (
	DefaultBaseURL   = "https://www.ncbi.nlm.nih.gov/research/pubtator3-api"
	DefaultEUtilsURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	maxBodyBytes = 32 << 20
)

var ErrUnexpectedContentType = errors.New("unexpected content type")

// StatusError is a non-success HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Code)
}

// Transient reports whether the server may answer differently later.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type Params struct {
	BaseURL    string
	EUtilsURL  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      util.RetryPolicy
}

type Client struct {
	baseURL   string
	eutilsURL string
	http      *http.Client
	retry     util.RetryPolicy
}

func New(p Params) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(p.BaseURL, "/"),
		eutilsURL: strings.TrimRight(p.EUtilsURL, "/"),
		http:      p.HTTPClient,
		retry:     p.Retry,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.eutilsURL == "" {
		c.eutilsURL = DefaultEUtilsURL
	}
	if c.http == nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry = util.DefaultRetryPolicy()
	}
	return c
}

// Fetch downloads the BioC XML collection of one PMID. A well-formed but
// empty collection means PubTator does not know the id.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	u := c.baseURL + "/publications/export/biocxml?pmids=" + url.QueryEscape(id)
	body, err := c.get(ctx, u, "xml")
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, &common.NotFoundError{ID: id}
		}
		return nil, err
	}
	ids, err := biocparser.DocumentIDs(body)
	if err == nil && len(ids) == 0 {
		return nil, &common.NotFoundError{ID: id}
	}
	return body, nil
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search returns up to limit PMIDs matching a PubMed query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	if limit <= 0 {
		limit = 20
	}
	v := url.Values{}
	v.Set("db", "pubmed")
	v.Set("retmode", "json")
	v.Set("retmax", strconv.Itoa(limit))
	v.Set("term", query)

	body, err := c.get(ctx, c.eutilsURL+"/esearch.fcgi?"+v.Encode(), "json")
	if err != nil {
		return nil, err
	}
	var res esearchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode esearch response: %w", err)
	}
	logger.Debug("[PubTator] Search", "query", query, "count", res.Result.Count, "returned", len(res.Result.IDList))
	return util.ParseArticleIDs(res.Result.IDList...), nil
}

// get performs a GET with retries on transport errors and transient
// statuses. The response content type must contain wantType.
func (c *Client) get(ctx context.Context, u, wantType string) ([]byte, error) {
	return util.RetryWithPolicy(ctx, c.retry, util.RetryOptions{
		Retryable: isTransient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("[PubTator] Retrying request", "url", u, "attempt", attempt, "wait", wait, "err", err)
		},
	}, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &StatusError{URL: u, Code: resp.StatusCode}
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), wantType) {
			return nil, fmt.Errorf("%w %q from %s", ErrUnexpectedContentType, ct, u)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return !errors.Is(err, ErrUnexpectedContentType)
}
