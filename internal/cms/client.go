// Package cms is a read-only client for the Contentstack Content Delivery API.
//
// It fetches single entries, pages through the entries of a content type and
// lists the content types of a stack. Entries are returned as content.Entry
// maps so their arbitrary field shapes survive untouched.
package cms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/config"
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/tidwall/gjson"
)

// maxResponseBody bounds how much of a response is read.
const maxResponseBody = 32 << 20

// maxPageSize is the largest page the delivery API accepts.
const maxPageSize = 100

// Client is a Contentstack delivery API client.
type Client struct {
	baseURL     string
	apiKey      string
	token       string
	environment string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithBaseURL overrides the region host, mainly for tests.
func WithBaseURL(u string) Option {
	return func(client *Client) {
		client.baseURL = strings.TrimSuffix(u, "/")
	}
}

// New creates a client for the stack described by cfg.
func New(cfg config.CMSConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrNotConfigured)
	}
	if !cfg.DeliveryToken.IsSet() {
		return nil, fmt.Errorf("%w: delivery token required", ErrNotConfigured)
	}
	if cfg.Environment == "" {
		return nil, fmt.Errorf("%w: environment required", ErrNotConfigured)
	}

	base := cfg.BaseURL
	if base == "" {
		host, err := RegionHost(cfg.Region)
		if err != nil {
			return nil, err
		}
		base = "https://" + host
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(base, "/"),
		apiKey:      cfg.APIKey,
		token:       cfg.DeliveryToken.Value(),
		environment: cfg.Environment,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchEntry returns one entry. Missing entries yield ErrEntryNotFound.
func (c *Client) FetchEntry(ctx context.Context, contentType, uid, locale string) (content.Entry, error) {
	path := fmt.Sprintf("/v3/content_types/%s/entries/%s", url.PathEscape(contentType), url.PathEscape(uid))
	q := url.Values{}
	if locale != "" {
		q.Set("locale", locale)
	}

	body, err := c.get(ctx, path, q)
	if err != nil {
		return nil, wrapError(err, "FetchEntry")
	}

	entry, ok := asEntry(gjson.GetBytes(body, "entry"))
	if !ok {
		return nil, fmt.Errorf("FetchEntry: %w: response has no entry object", ErrUnavailable)
	}
	return entry, nil
}

// Page is one page of a content type's entries.
type Page struct {
	Entries []content.Entry
	// Count is the total entry count; set only when requested.
	Count int
}

// QueryOptions selects a page of entries.
type QueryOptions struct {
	Locale       string
	Skip         int
	Limit        int
	IncludeCount bool
}

// QueryEntries returns one page of entries of a content type.
func (c *Client) QueryEntries(ctx context.Context, contentType string, opts QueryOptions) (*Page, error) {
	limit := opts.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{}
	if opts.Locale != "" {
		q.Set("locale", opts.Locale)
	}
	q.Set("skip", strconv.Itoa(opts.Skip))
	q.Set("limit", strconv.Itoa(limit))
	if opts.IncludeCount {
		q.Set("include_count", "true")
	}

	body, err := c.get(ctx, fmt.Sprintf("/v3/content_types/%s/entries", url.PathEscape(contentType)), q)
	if err != nil {
		return nil, wrapError(err, "QueryEntries")
	}

	res := gjson.ParseBytes(body)
	page := &Page{Count: int(res.Get("count").Int())}
	for _, item := range res.Get("entries").Array() {
		if entry, ok := asEntry(item); ok {
			page.Entries = append(page.Entries, entry)
		}
	}
	return page, nil
}

// EachEntry pages through up to limit entries of a content type, calling fn
// for each one in order. A limit of zero or less means all entries. It
// returns the number of entries visited; an error from fn stops iteration.
func (c *Client) EachEntry(ctx context.Context, contentType, locale string, pageSize, limit int, fn func(content.Entry) error) (int, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	visited := 0
	for skip := 0; ; skip += pageSize {
		size := pageSize
		if limit > 0 {
			size = min(pageSize, limit-visited)
		}
		page, err := c.QueryEntries(ctx, contentType, QueryOptions{
			Locale:       locale,
			Skip:         skip,
			Limit:        size,
			IncludeCount: skip == 0,
		})
		if err != nil {
			return visited, err
		}
		for _, entry := range page.Entries {
			if err := fn(entry); err != nil {
				return visited, err
			}
			visited++
		}
		if len(page.Entries) < size || (limit > 0 && visited >= limit) {
			return visited, nil
		}
	}
}

// ContentType is a content type summary.
type ContentType struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
}

// ContentTypes lists the content types of the stack.
func (c *Client) ContentTypes(ctx context.Context) ([]ContentType, error) {
	body, err := c.get(ctx, "/v3/content_types", nil)
	if err != nil {
		return nil, wrapError(err, "ContentTypes")
	}

	items := gjson.GetBytes(body, "content_types").Array()
	out := make([]ContentType, 0, len(items))
	for _, item := range items {
		out = append(out, ContentType{
			UID:   item.Get("uid").String(),
			Title: item.Get("title").String(),
		})
	}
	return out, nil
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	if q == nil {
		q = url.Values{}
	}
	q.Set("environment", c.environment)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api_key", c.apiKey)
	req.Header.Set("access_token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res := gjson.ParseBytes(body)
		msg := res.Get("error_message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Code:       int(res.Get("error_code").Int()),
			Message:    msg,
		}
	}
	return body, nil
}

func asEntry(r gjson.Result) (content.Entry, bool) {
	if !r.IsObject() {
		return nil, false
	}
	m, ok := r.Value().(map[string]any)
	if !ok {
		return nil, false
	}
	return content.Entry(m), true
}
