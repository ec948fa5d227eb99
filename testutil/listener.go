package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ListenerCall is one request received by a Listener.
type ListenerCall struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

// Reply is what a Listener answers on a path.
type Reply struct {
	Status int
	Body   any
	Header map[string]string
}

// Listener is an HTTP hook listener backed by httptest.Server. Unconfigured
// paths answer 204.
type Listener struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []ListenerCall
	replies map[string]Reply
	funcs   map[string]func(ListenerCall) Reply
}

// NewListener starts a listener that is closed when the test ends.
func NewListener(t testing.TB) *Listener {
	t.Helper()
	l := &Listener{replies: map[string]Reply{}, funcs: map[string]func(ListenerCall) Reply{}}
	l.Server = httptest.NewServer(http.HandlerFunc(l.serve))
	t.Cleanup(l.Close)
	return l
}

// Reply sets a fixed reply for path.
func (l *Listener) Reply(path string, reply Reply) *Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replies[path] = reply
	return l
}

// ReplyFunc computes the reply for path from the call.
func (l *Listener) ReplyFunc(path string, fn func(ListenerCall) Reply) *Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[path] = fn
	return l
}

func (l *Listener) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	call := ListenerCall{Path: r.URL.Path, Header: r.Header.Clone()}
	_ = json.Unmarshal(data, &call.Body)

	l.mu.Lock()
	l.calls = append(l.calls, call)
	reply, ok := l.replies[call.Path]
	fn := l.funcs[call.Path]
	l.mu.Unlock()

	if fn != nil {
		reply, ok = fn(call), true
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	for k, v := range reply.Header {
		w.Header().Set(k, v)
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	if reply.Body == nil {
		w.WriteHeader(reply.Status)
		return
	}
	if s, isString := reply.Body.(string); isString {
		w.WriteHeader(reply.Status)
		_, _ = w.Write([]byte(s))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_ = json.NewEncoder(w).Encode(reply.Body)
}

// Calls returns a copy of the received calls.
func (l *Listener) Calls() []ListenerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ListenerCall(nil), l.calls...)
}

// CallsTo returns the calls received on path.
func (l *Listener) CallsTo(path string) []ListenerCall {
	var out []ListenerCall
	for _, c := range l.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// WaitForCalls polls until path received n calls or the timeout passes.
func (l *Listener) WaitForCalls(t testing.TB, path string, n int, timeout time.Duration) []ListenerCall {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		calls := l.CallsTo(path)
		if len(calls) >= n {
			return calls
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d calls to %s, got %d", n, path, len(calls))
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
}
