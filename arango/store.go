// Package arango is the document store client: cursor queries, bulk
// document writes, transaction status and the collection, view and analyzer
// administration used at startup.
package arango

import "context"

// TrxHeader carries a stream transaction id on store and hook requests.
const TrxHeader = "x-arango-trx-id"

// Transaction states reported by the store.
const (
	TrxRunning   = "running"
	TrxCommitted = "committed"
	TrxAborted   = "aborted"
)

// QueryOptions controls one cursor query.
type QueryOptions struct {
	// Count asks for the number of results.
	Count bool
	// FullCount asks for the number of results before the last LIMIT.
	FullCount bool
	TrxID     string
	// Kind labels the query in logs and metrics.
	Kind string
}

// Cursor is the fully drained result of a query.
type Cursor struct {
	Count  int
	Total  int
	Result []map[string]any
}

// First returns the first result, or nil.
func (c *Cursor) First() map[string]any {
	if c == nil || len(c.Result) == 0 {
		return nil
	}
	return c.Result[0]
}

// WriteOptions controls bulk document writes.
type WriteOptions struct {
	Sync          bool
	ReturnNew     bool
	ReturnOld     bool
	OverwriteMode string
	KeepNull      bool
	MergeObjects  bool
	TrxID         string
}

// DefaultCreateOptions mirrors the store defaults used for object creation.
func DefaultCreateOptions() WriteOptions {
	return WriteOptions{Sync: true, ReturnNew: true, OverwriteMode: "conflict"}
}

// DefaultUpdateOptions returns new and old documents and keeps nulls.
func DefaultUpdateOptions() WriteOptions {
	return WriteOptions{Sync: true, ReturnNew: true, ReturnOld: true, KeepNull: true}
}

// DefaultDeleteOptions returns the removed documents.
func DefaultDeleteOptions() WriteOptions {
	return WriteOptions{Sync: true, ReturnOld: true}
}

// WriteResult is one element of a bulk write response. Failed elements
// carry Error and the store's error number and message.
type WriteResult struct {
	ID           string         `json:"_id,omitempty"`
	Key          string         `json:"_key,omitempty"`
	Rev          string         `json:"_rev,omitempty"`
	New          map[string]any `json:"new,omitempty"`
	Old          map[string]any `json:"old,omitempty"`
	Error        bool           `json:"error,omitempty"`
	ErrorNum     int            `json:"errorNum,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Document returns the most specific document of the result: new, then
// old, then the bare metadata.
func (r WriteResult) Document() map[string]any {
	switch {
	case r.New != nil:
		return r.New
	case r.Old != nil:
		return r.Old
	}
	out := map[string]any{}
	if r.ID != "" {
		out["_id"] = r.ID
	}
	if r.Key != "" {
		out["_key"] = r.Key
	}
	if r.Rev != "" {
		out["_rev"] = r.Rev
	}
	if r.Error {
		out["error"] = true
		out["errorNum"] = r.ErrorNum
		out["errorMessage"] = r.ErrorMessage
	}
	return out
}

// Store is the part of the document store the domain engine depends on.
type Store interface {
	Query(ctx context.Context, query string, bindVars map[string]any, opts QueryOptions) (*Cursor, error)
	BulkCreate(ctx context.Context, collection string, docs []map[string]any, opts WriteOptions) ([]WriteResult, error)
	BulkUpdate(ctx context.Context, collection string, docs []map[string]any, opts WriteOptions) ([]WriteResult, error)
	BulkDelete(ctx context.Context, collection string, selectors []any, opts WriteOptions) ([]WriteResult, error)
	TransactionStatus(ctx context.Context, trxID string) (string, error)
	Ping(ctx context.Context) error
}
