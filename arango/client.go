package arango

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/metric"
	"github.com/protojour/pymoriam/pkg/retry"
)

// Service identity headers sent on every store request.
const (
	EntityIDHeader   = "x-authly-entity-id"
	EntityTypeHeader = "x-authly-entity-type"
)

// Client talks to the store's HTTP API, cycling through its endpoints.
type Client struct {
	hosts    []string
	next     atomic.Uint64
	database string
	username string
	password string
	identity string

	http       *http.Client
	logger     *slog.Logger
	metrics    *metric.Metrics
	logQueries bool
}

// Option configures a Client.
type Option func(*Client)

// WithDatabase selects the database; default "memoriam".
func WithDatabase(name string) Option {
	return func(c *Client) { c.database = name }
}

// WithBasicAuth authenticates every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the underlying HTTP client, e.g. one built by
// tlsutil.NewHTTPClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records query counts, latency and backend reachability.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithQueryLogging logs every query and its bind variables at debug level.
func WithQueryLogging(enabled bool) Option {
	return func(c *Client) { c.logQueries = enabled }
}

// WithServiceIdentity sets the entity id sent in the identity headers.
func WithServiceIdentity(name string) Option {
	return func(c *Client) { c.identity = name }
}

// NewClient creates a client for hosts such as "http://arangodb:8529".
func NewClient(hosts []string, opts ...Option) (*Client, error) {
	if len(hosts) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "arango", "NewClient", "at least one endpoint")
	}
	c := &Client{
		database: "memoriam",
		identity: "memoriam",
		http:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, host := range hosts {
		if _, err := url.Parse(host); err != nil {
			return nil, errors.WrapInvalid(err, "arango", "NewClient", "parse endpoint "+host)
		}
		c.hosts = append(c.hosts, strings.TrimRight(host, "/"))
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "arango")
	return c, nil
}

// Database returns the selected database name.
func (c *Client) Database() string { return c.database }

// Connect pings the store until it answers, up to attempts times at a
// fixed interval.
func (c *Client) Connect(ctx context.Context, attempts int, interval time.Duration) error {
	err := retry.Do(ctx, retry.Fixed(attempts, interval), func() error {
		err := c.Ping(ctx)
		if err != nil {
			c.logger.Debug("Store not ready", "error", err)
		}
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "arango", "Connect", "reach store")
	}
	return nil
}

// Ping checks the store by listing the _system collections.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "_db/_system/_api/collection", nil, nil, "", nil)
	c.metrics.SetBackendUp(err == nil)
	return err
}

func (c *Client) host() string {
	n := c.next.Add(1) - 1
	return c.hosts[n%uint64(len(c.hosts))]
}

func (c *Client) dbPath(format string, args ...any) string {
	return "_db/" + url.PathEscape(c.database) + "/" + fmt.Sprintf(format, args...)
}

// do sends one request and decodes a 2xx JSON answer into out. Non-2xx
// answers become BackendErrors carrying errorNum and errorMessage.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, trxID string, out any) error {
	target := c.host() + "/" + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.WrapInvalid(err, "arango", "do", "encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &errors.BackendError{Method: method, URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EntityIDHeader, c.identity)
	req.Header.Set(EntityTypeHeader, "Service")
	if trxID != "" {
		req.Header.Set(TrxHeader, trxID)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &errors.BackendError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.BackendError{Method: method, URL: target, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			ErrorNum     int    `json:"errorNum"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return &errors.BackendError{
			Method:  method,
			URL:     target,
			Status:  resp.StatusCode,
			Num:     apiErr.ErrorNum,
			Message: apiErr.ErrorMessage,
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &errors.BackendError{Method: method, URL: target, Status: resp.StatusCode, Err: err}
	}
	return nil
}

type cursorResponse struct {
	ID      string           `json:"id"`
	HasMore bool             `json:"hasMore"`
	Count   int              `json:"count"`
	Result  []map[string]any `json:"result"`
	Extra   struct {
		Stats struct {
			FullCount int `json:"fullCount"`
		} `json:"stats"`
	} `json:"extra"`
}

// Query runs a query and drains its cursor.
func (c *Client) Query(ctx context.Context, query string, bindVars map[string]any, opts QueryOptions) (*Cursor, error) {
	if bindVars == nil {
		bindVars = map[string]any{}
	}
	if c.logQueries {
		c.logger.Debug("Query", "kind", opts.Kind, "query", query, "bind_vars", bindVars)
	}

	start := time.Now()
	cursor, err := c.query(ctx, query, bindVars, opts)
	kind := opts.Kind
	if kind == "" {
		kind = "query"
	}
	c.metrics.RecordQuery(kind, err, time.Since(start))
	return cursor, err
}

func (c *Client) query(ctx context.Context, query string, bindVars map[string]any, opts QueryOptions) (*Cursor, error) {
	body := map[string]any{
		"query":    query,
		"bindVars": bindVars,
		"count":    opts.Count,
		"options":  map[string]any{"fullCount": opts.FullCount},
	}

	var page cursorResponse
	if err := c.do(ctx, http.MethodPost, c.dbPath("_api/cursor"), nil, body, opts.TrxID, &page); err != nil {
		return nil, err
	}

	out := &Cursor{Count: page.Count, Total: page.Extra.Stats.FullCount, Result: page.Result}
	if len(out.Result) > 0 && len(out.Result[0]) == 0 {
		out.Result = nil
	}

	for page.HasMore {
		id := page.ID
		page = cursorResponse{}
		if err := c.do(ctx, http.MethodPost, c.dbPath("_api/cursor/%s", url.PathEscape(id)), nil, nil, opts.TrxID, &page); err != nil {
			return nil, err
		}
		out.Count += page.Count
		out.Result = append(out.Result, page.Result...)
	}
	if out.Result == nil {
		out.Result = []map[string]any{}
	}
	return out, nil
}

func writeParams(opts WriteOptions) url.Values {
	params := url.Values{}
	params.Set("waitForSync", strconv.FormatBool(opts.Sync))
	params.Set("returnNew", strconv.FormatBool(opts.ReturnNew))
	params.Set("returnOld", strconv.FormatBool(opts.ReturnOld))
	return params
}

// BulkCreate inserts docs into collection.
func (c *Client) BulkCreate(ctx context.Context, collection string, docs []map[string]any, opts WriteOptions) ([]WriteResult, error) {
	params := writeParams(opts)
	params.Del("returnOld")
	if opts.OverwriteMode != "" {
		params.Set("overwriteMode", opts.OverwriteMode)
	}
	var out []WriteResult
	err := c.do(ctx, http.MethodPost, c.dbPath("_api/document/%s", url.PathEscape(collection)), params, docs, opts.TrxID, &out)
	return out, err
}

// BulkUpdate patches docs, each identified by _key.
func (c *Client) BulkUpdate(ctx context.Context, collection string, docs []map[string]any, opts WriteOptions) ([]WriteResult, error) {
	params := writeParams(opts)
	params.Set("keepNull", strconv.FormatBool(opts.KeepNull))
	params.Set("mergeObjects", strconv.FormatBool(opts.MergeObjects))
	var out []WriteResult
	err := c.do(ctx, http.MethodPatch, c.dbPath("_api/document/%s", url.PathEscape(collection)), params, docs, opts.TrxID, &out)
	return out, err
}

// BulkDelete removes the documents selected by key strings or objects
// carrying _key.
func (c *Client) BulkDelete(ctx context.Context, collection string, selectors []any, opts WriteOptions) ([]WriteResult, error) {
	params := writeParams(opts)
	params.Del("returnNew")
	var out []WriteResult
	err := c.do(ctx, http.MethodDelete, c.dbPath("_api/document/%s", url.PathEscape(collection)), params, selectors, opts.TrxID, &out)
	return out, err
}

// TransactionStatus returns the state of a stream transaction.
func (c *Client) TransactionStatus(ctx context.Context, trxID string) (string, error) {
	var out struct {
		Result struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, c.dbPath("_api/transaction/%s", url.PathEscape(trxID)), nil, nil, "", &out); err != nil {
		return "", err
	}
	return out.Result.Status, nil
}

var _ Store = (*Client)(nil)
