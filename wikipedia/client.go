// Package wikipedia is a thin client for the Wikipedia REST and Action
// APIs. It maps the remote responses into three plain result records used
// by the MCP tool layer.
package wikipedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrNotFound reports that the requested page or section does not exist or
// has no content.
var ErrNotFound = errors.New("wikipedia: not found")

// SearchResult is the summary of the best-matching page for a query.
type SearchResult struct {
	Title   string
	Summary string
	URL     string
}

// SectionList is the outline of a page.
type SectionList struct {
	Title    string
	Sections []string
	URL      string
}

// SectionContent is the text of a single page section.
type SectionContent struct {
	SectionTitle string
	Content      string
}

// ContentSource is the read-only view of Wikipedia the tool layer depends
// on. *Client implements it; tests substitute fakes.
type ContentSource interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
	ListSections(ctx context.Context, topic string) (*SectionList, error)
	GetSectionContent(ctx context.Context, topic, sectionTitle string) (*SectionContent, error)
}

const (
	defaultBaseURL     = "https://en.wikipedia.org"
	defaultHTTPTimeout = 10 * time.Second
	defaultAttempts    = 3
	defaultUserAgent   = "wikipedia-mcp/1.0 (https://github.com/factlore/wikipedia-mcp)"
)

// Client fetches page data from a Wikipedia-compatible API host. It owns a
// single connection pool and is safe for concurrent use.
type Client struct {
	baseURL   string
	httpc     *http.Client
	log       *slog.Logger
	userAgent string
	attempts  uint
}

var _ ContentSource = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API host. Used by tests and
// for non-English wikis.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpc = hc
		}
	}
}

// WithLogger sets the logger for upstream request events.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetryAttempts bounds how many times a transient upstream failure is
// retried before giving up.
func WithRetryAttempts(n uint) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// NewClient builds a Client with defaults and applies options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		httpc:     &http.Client{Timeout: defaultHTTPTimeout},
		log:       slog.Default(),
		userAgent: defaultUserAgent,
		attempts:  defaultAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// restSummary is the subset of the REST page summary payload we consume.
type restSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Search resolves a query to the best-matching page summary via the REST
// summary endpoint. An unknown page maps to ErrNotFound.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	title := url.PathEscape(strings.ReplaceAll(strings.TrimSpace(query), " ", "_"))
	endpoint := c.baseURL + "/api/rest_v1/page/summary/" + title

	var summary restSummary
	if err := c.getJSON(ctx, endpoint, &summary); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	pageURL := summary.ContentURLs.Desktop.Page
	if pageURL == "" {
		pageURL = c.baseURL + "/wiki/" + title
	}
	return &SearchResult{
		Title:   summary.Title,
		Summary: summary.Extract,
		URL:     pageURL,
	}, nil
}

// parseSectionsResponse is the Action API shape for prop=sections.
type parseSectionsResponse struct {
	Parse *struct {
		Title    string `json:"title"`
		Sections []struct {
			Line  string `json:"line"`
			Index string `json:"index"`
		} `json:"sections"`
	} `json:"parse"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// ListSections returns the section outline of a page via the Action API.
func (c *Client) ListSections(ctx context.Context, topic string) (*SectionList, error) {
	res, err := c.fetchSections(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("list sections of %q: %w", topic, err)
	}

	sections := make([]string, 0, len(res.Parse.Sections))
	for _, s := range res.Parse.Sections {
		sections = append(sections, s.Line)
	}
	return &SectionList{
		Title:    res.Parse.Title,
		Sections: sections,
		URL:      c.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(res.Parse.Title, " ", "_")),
	}, nil
}

// parseWikitextResponse is the Action API shape for prop=wikitext.
type parseWikitextResponse struct {
	Parse *struct {
		Title    string `json:"title"`
		Wikitext struct {
			Text string `json:"*"`
		} `json:"wikitext"`
	} `json:"parse"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// GetSectionContent fetches the wikitext of one named section. The section
// title is matched case-insensitively against the page outline. A missing
// section or empty body maps to ErrNotFound.
func (c *Client) GetSectionContent(ctx context.Context, topic, sectionTitle string) (*SectionContent, error) {
	outline, err := c.fetchSections(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("section %q of %q: %w", sectionTitle, topic, err)
	}

	index := ""
	canonical := ""
	for _, s := range outline.Parse.Sections {
		if strings.EqualFold(s.Line, sectionTitle) {
			index = s.Index
			canonical = s.Line
			break
		}
	}
	if index == "" {
		return nil, fmt.Errorf("section %q of %q: %w", sectionTitle, topic, ErrNotFound)
	}

	q := url.Values{}
	q.Set("action", "parse")
	q.Set("page", topic)
	q.Set("prop", "wikitext")
	q.Set("section", index)
	q.Set("format", "json")

	var res parseWikitextResponse
	if err := c.getJSON(ctx, c.baseURL+"/w/api.php?"+q.Encode(), &res); err != nil {
		return nil, fmt.Errorf("section %q of %q: %w", sectionTitle, topic, err)
	}
	if res.Error != nil || res.Parse == nil {
		return nil, fmt.Errorf("section %q of %q: %w", sectionTitle, topic, ErrNotFound)
	}

	content := strings.TrimSpace(res.Parse.Wikitext.Text)
	if content == "" {
		return nil, fmt.Errorf("section %q of %q is empty: %w", sectionTitle, topic, ErrNotFound)
	}
	return &SectionContent{SectionTitle: canonical, Content: content}, nil
}

func (c *Client) fetchSections(ctx context.Context, topic string) (*parseSectionsResponse, error) {
	q := url.Values{}
	q.Set("action", "parse")
	q.Set("page", topic)
	q.Set("prop", "sections")
	q.Set("format", "json")

	var res parseSectionsResponse
	if err := c.getJSON(ctx, c.baseURL+"/w/api.php?"+q.Encode(), &res); err != nil {
		return nil, err
	}
	if res.Error != nil || res.Parse == nil {
		return nil, ErrNotFound
	}
	return &res, nil
}

// getJSON issues a GET and decodes the JSON body into out. Transient
// failures (network errors, 5xx) are retried with backoff; 404 maps to
// ErrNotFound without retrying.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	start := time.Now()
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", c.userAgent)
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(ErrNotFound)
			case resp.StatusCode >= 500:
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("upstream status %d", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return retry.Unrecoverable(fmt.Errorf("upstream status %d", resp.StatusCode))
			}

			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode upstream response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		c.log.WarnContext(ctx, "wikipedia.request.fail",
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
			slog.Duration("dur", time.Since(start)))
		return err
	}
	c.log.DebugContext(ctx, "wikipedia.request.ok",
		slog.String("endpoint", endpoint),
		slog.Duration("dur", time.Since(start)))
	return nil
}
