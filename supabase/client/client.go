// Package client provides a Supabase client for the dive-shop backend.
// It covers PostgREST queries, GoTrue auth with persisted sessions,
// storage buckets and realtime table changes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/addfeaturesnow/prodesk/internal/httputil"
)

const (
	maxResponseBytes = 8 << 20 // 8 MiB
	maxErrorBytes    = 32 << 10
)

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	auth       *AuthClient
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client

	// Sessions stores the signed-in session. Defaults to an in-memory store.
	Sessions SessionStore
	// PersistSession saves sessions to Sessions on sign-in and refresh.
	PersistSession bool
	// AutoRefreshToken refreshes an access token close to expiry before use.
	AutoRefreshToken bool

	// Resilience enables retries and a circuit breaker on the HTTP transport.
	Resilience *ResilienceConfig
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	if cfg.Resilience != nil {
		wrapped := *httpClient
		wrapped.Transport = NewRetryTransport(httpClient.Transport, *cfg.Resilience)
		httpClient = &wrapped
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
	c.auth = &AuthClient{
		client:      c,
		store:       sessions,
		persist:     cfg.PersistSession,
		autoRefresh: cfg.AutoRefreshToken,
		now:         time.Now,
	}
	return c, nil
}

// URL returns the project URL.
func (c *Client) URL() string { return c.baseURL }

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

type queryAction int

const (
	actionSelect queryAction = iota
	actionInsert
	actionUpsert
	actionUpdate
	actionDelete
)

func (a queryAction) method() string {
	switch a {
	case actionInsert, actionUpsert:
		return http.MethodPost
	case actionUpdate:
		return http.MethodPatch
	case actionDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client: c,
		table:  table,
	}
}

// QueryBuilder builds PostgREST queries. Builder methods mutate and return
// the receiver; start a new one with From for every query.
type QueryBuilder struct {
	client     *Client
	table      string
	action     queryAction
	body       any
	columns    string
	filters    url.Values
	orders     []string
	limit      int
	offset     int
	single     bool
	count      string // exact, planned, estimated
	onConflict string
}

func (q *QueryBuilder) filter(column, op string, value any) *QueryBuilder {
	if q.filters == nil {
		q.filters = url.Values{}
	}
	q.filters.Add(column, fmt.Sprintf("%s.%v", op, value))
	return q
}

// Select specifies columns to return.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.columns = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder { return q.filter(column, "eq", value) }

// Neq adds a not-equal filter.
func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	return q.filter(column, "neq", value)
}

// Gt adds a greater-than filter.
func (q *QueryBuilder) Gt(column string, value any) *QueryBuilder { return q.filter(column, "gt", value) }

// Gte adds a greater-than-or-equal filter.
func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	return q.filter(column, "gte", value)
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder { return q.filter(column, "lt", value) }

// Lte adds a less-than-or-equal filter.
func (q *QueryBuilder) Lte(column string, value any) *QueryBuilder {
	return q.filter(column, "lte", value)
}

// Like adds a LIKE filter.
func (q *QueryBuilder) Like(column, pattern string) *QueryBuilder {
	return q.filter(column, "like", pattern)
}

// ILike adds a case-insensitive LIKE filter.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.filter(column, "ilike", pattern)
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values []any) *QueryBuilder {
	strValues := make([]string, len(values))
	for i, v := range values {
		strValues[i] = fmt.Sprintf("%v", v)
	}
	return q.filter(column, "in", "("+strings.Join(strValues, ",")+")")
}

// Is adds an IS filter (for NULL, TRUE, FALSE).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	if value == nil {
		value = "null"
	}
	return q.filter(column, "is", value)
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset sets the OFFSET.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Single expects exactly one row and returns it as an object.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count includes a row count in the Content-Range header.
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

// Insert turns the query into an INSERT of data (an object or a slice).
func (q *QueryBuilder) Insert(data any) *QueryBuilder {
	q.action = actionInsert
	q.body = data
	return q
}

// Upsert turns the query into an INSERT ... ON CONFLICT merge.
func (q *QueryBuilder) Upsert(data any, onConflict string) *QueryBuilder {
	q.action = actionUpsert
	q.body = data
	q.onConflict = onConflict
	return q
}

// Update turns the query into an UPDATE of the filtered rows.
func (q *QueryBuilder) Update(data any) *QueryBuilder {
	q.action = actionUpdate
	q.body = data
	return q
}

// Delete turns the query into a DELETE of the filtered rows.
func (q *QueryBuilder) Delete() *QueryBuilder {
	q.action = actionDelete
	q.body = nil
	return q
}

// URL returns the request URL the query would hit.
func (q *QueryBuilder) URL() string {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, url.PathEscape(q.table))

	params := url.Values{}
	for k, vs := range q.filters {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if q.columns != "" {
		params.Set("select", q.columns)
	}
	if q.action == actionSelect {
		if len(q.orders) > 0 {
			params.Set("order", strings.Join(q.orders, ","))
		}
		if q.limit > 0 {
			params.Set("limit", fmt.Sprintf("%d", q.limit))
		}
		if q.offset > 0 {
			params.Set("offset", fmt.Sprintf("%d", q.offset))
		}
	}
	if q.action == actionUpsert && q.onConflict != "" {
		params.Set("on_conflict", q.onConflict)
	}

	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// Execute runs the query.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	var body io.Reader
	if q.body != nil {
		data, err := json.Marshal(q.body)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, q.action.method(), q.URL(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := q.client.setHeaders(ctx, req); err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	var prefer []string
	switch q.action {
	case actionUpsert:
		prefer = append(prefer, "resolution=merge-duplicates", "return=representation")
	case actionInsert, actionUpdate, actionDelete:
		prefer = append(prefer, "return=representation")
	}
	if q.count != "" {
		prefer = append(prefer, "count="+q.count)
	}
	if len(prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(prefer, ","))
	}

	return q.client.do(req)
}

// Await executes the query and turns an error response into an error, so a
// query builder can be the final value of a deferred chain.
func (q *QueryBuilder) Await(ctx context.Context) (any, error) {
	resp, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp, nil
}

// =============================================================================
// RPC (Stored Procedures)
// =============================================================================

// RPC calls a stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, url.PathEscape(fn))

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := c.setHeaders(ctx, req); err != nil {
		return nil, err
	}
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Error()
}

// =============================================================================
// Internal Methods
// =============================================================================

// setHeaders adds the API key and the best available bearer token.
func (c *Client) setHeaders(ctx context.Context, req *http.Request) error {
	token := c.apiKey
	if c.auth != nil {
		sess, err := c.auth.Session(ctx)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess != nil && sess.AccessToken != "" {
			token = sess.AccessToken
		}
	}
	c.setKeyHeaders(req, token)
	return nil
}

func (c *Client) setKeyHeaders(req *http.Request, bearer string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(maxResponseBytes)
	if resp.StatusCode >= 400 {
		limit = maxErrorBytes
	}
	body, _, err := httputil.ReadAllWithLimit(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}
