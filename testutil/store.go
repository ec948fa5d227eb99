package testutil

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/protojour/pymoriam/arango"
)

// RecordedQuery is one query received by a MockStore.
type RecordedQuery struct {
	Query    string
	BindVars map[string]any
	Opts     arango.QueryOptions
}

// RecordedWrite is one bulk write received by a MockStore. Op is "create",
// "update" or "delete".
type RecordedWrite struct {
	Op         string
	Collection string
	Docs       []map[string]any
	Selectors  []any
	Opts       arango.WriteOptions
}

// MockStore is an in-memory arango.Store that records every call. Queued
// cursors answer queries in order; QueryFunc and WriteFunc take over when
// set. Thread-safe for concurrent use.
type MockStore struct {
	mu sync.Mutex

	QueryFunc  func(q RecordedQuery) (*arango.Cursor, error)
	WriteFunc  func(w RecordedWrite) ([]arango.WriteResult, error)
	StatusFunc func(trxID string, call int) (string, error)
	PingErr    error

	queued      []*arango.Cursor
	queries     []RecordedQuery
	writes      []RecordedWrite
	statusCalls map[string]int
	nextKey     int
}

// NewMockStore creates a store that answers queries with empty cursors and
// echoes writes back as new documents.
func NewMockStore() *MockStore {
	return &MockStore{statusCalls: map[string]int{}}
}

// Enqueue queues query results, one cursor per call.
func (s *MockStore) Enqueue(results ...[]map[string]any) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.queued = append(s.queued, &arango.Cursor{Count: len(r), Total: len(r), Result: r})
	}
	return s
}

// EnqueueCursor queues a cursor with an explicit full count.
func (s *MockStore) EnqueueCursor(c *arango.Cursor) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, c)
	return s
}

// Query implements arango.Store.
func (s *MockStore) Query(_ context.Context, query string, bindVars map[string]any, opts arango.QueryOptions) (*arango.Cursor, error) {
	s.mu.Lock()
	q := RecordedQuery{Query: query, BindVars: copyMap(bindVars), Opts: opts}
	s.queries = append(s.queries, q)
	fn := s.QueryFunc
	var next *arango.Cursor
	if fn == nil && len(s.queued) > 0 {
		next, s.queued = s.queued[0], s.queued[1:]
	}
	s.mu.Unlock()

	if fn != nil {
		return fn(q)
	}
	if next != nil {
		return next, nil
	}
	return &arango.Cursor{Result: []map[string]any{}}, nil
}

func (s *MockStore) write(w RecordedWrite) ([]arango.WriteResult, error) {
	s.mu.Lock()
	s.writes = append(s.writes, w)
	fn := s.WriteFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(w)
	}

	var out []arango.WriteResult
	switch w.Op {
	case "delete":
		for _, sel := range w.Selectors {
			key, _ := sel.(string)
			if m, ok := sel.(map[string]any); ok {
				key, _ = m["_key"].(string)
			}
			out = append(out, arango.WriteResult{
				ID:  w.Collection + "/" + key,
				Key: key,
				Old: map[string]any{"_id": w.Collection + "/" + key, "_key": key},
			})
		}
	default:
		for _, doc := range w.Docs {
			doc = copyMap(doc)
			key, _ := doc["_key"].(string)
			if key == "" {
				s.mu.Lock()
				s.nextKey++
				key = strconv.Itoa(s.nextKey)
				s.mu.Unlock()
				doc["_key"] = key
			}
			doc["_id"] = w.Collection + "/" + key
			res := arango.WriteResult{ID: doc["_id"].(string), Key: key}
			if w.Opts.ReturnNew {
				res.New = doc
			}
			if w.Op == "update" && w.Opts.ReturnOld {
				res.Old = map[string]any{"_id": doc["_id"], "_key": key}
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// BulkCreate implements arango.Store.
func (s *MockStore) BulkCreate(_ context.Context, collection string, docs []map[string]any, opts arango.WriteOptions) ([]arango.WriteResult, error) {
	return s.write(RecordedWrite{Op: "create", Collection: collection, Docs: copyDocs(docs), Opts: opts})
}

// BulkUpdate implements arango.Store.
func (s *MockStore) BulkUpdate(_ context.Context, collection string, docs []map[string]any, opts arango.WriteOptions) ([]arango.WriteResult, error) {
	return s.write(RecordedWrite{Op: "update", Collection: collection, Docs: copyDocs(docs), Opts: opts})
}

// BulkDelete implements arango.Store.
func (s *MockStore) BulkDelete(_ context.Context, collection string, selectors []any, opts arango.WriteOptions) ([]arango.WriteResult, error) {
	return s.write(RecordedWrite{Op: "delete", Collection: collection, Selectors: append([]any(nil), selectors...), Opts: opts})
}

// TransactionStatus implements arango.Store. Without StatusFunc every
// transaction is committed.
func (s *MockStore) TransactionStatus(_ context.Context, trxID string) (string, error) {
	s.mu.Lock()
	s.statusCalls[trxID]++
	call := s.statusCalls[trxID]
	fn := s.StatusFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(trxID, call)
	}
	return arango.TrxCommitted, nil
}

// Ping implements arango.Store.
func (s *MockStore) Ping(context.Context) error {
	return s.PingErr
}

// Queries returns a copy of the recorded queries.
func (s *MockStore) Queries() []RecordedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedQuery(nil), s.queries...)
}

// QueriesMatching returns the recorded queries containing substr.
func (s *MockStore) QueriesMatching(substr string) []RecordedQuery {
	var out []RecordedQuery
	for _, q := range s.Queries() {
		if strings.Contains(q.Query, substr) {
			out = append(out, q)
		}
	}
	return out
}

// Writes returns a copy of the recorded writes.
func (s *MockStore) Writes() []RecordedWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedWrite(nil), s.writes...)
}

// WritesTo returns the recorded writes against collection.
func (s *MockStore) WritesTo(collection string) []RecordedWrite {
	var out []RecordedWrite
	for _, w := range s.Writes() {
		if w.Collection == collection {
			out = append(out, w)
		}
	}
	return out
}

// StatusCalls returns how often the status of trxID was polled.
func (s *MockStore) StatusCalls(trxID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls[trxID]
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyDocs(docs []map[string]any) []map[string]any {
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = copyMap(d)
	}
	return out
}

var _ arango.Store = (*MockStore)(nil)
