// Package testutil provides test doubles and fixtures shared by the package
// tests.
//
// # Overview
//
// MockStore - recording arango.Store:
//   - Answers queries from a queue of cursors, or from QueryFunc when set
//   - Echoes bulk writes back as stored documents, with generated keys
//   - Records every query (text, bind variables, options) and write
//   - Thread-safe; hook and audit tasks may run on other goroutines
//
// Listener - hook listener server:
//   - httptest.Server that records every call (path, headers, JSON body)
//   - Reply and ReplyFunc script the answer per path
//   - WaitForCalls polls for asynchronous post-hook calls
//
// Fixtures:
//   - DBSchema, Model and Search parse the shared YAML documents
//   - Datasets and Includes are a small linked dataset
//
// ArangoContainer and NATSContainer start real servers through
// testcontainers for tests behind the integration build tag.
//
// # Usage
//
//	store := testutil.NewMockStore()
//	store.Enqueue(testutil.Datasets)
//
//	page, err := engine.List(ctx, caller, "memoriam", "dataset", query.Request{})
//	require.NoError(t, err)
//	assert.Len(t, store.QueriesMatching("FOR object IN dataset"), 1)
//
// Hook listeners:
//
//	listener := testutil.NewListener(t)
//	listener.Reply("/pre", testutil.Reply{Status: http.StatusForbidden})
//	// register listener.URL as a service host, then run the mutation
//	calls := listener.CallsTo("/pre")
package testutil
