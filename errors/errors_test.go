package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"invalid data", ErrInvalidData, false},
		{"backend 503", &BackendError{Status: 503}, true},
		{"backend unreachable", &BackendError{Err: fmt.Errorf("dial tcp")}, true},
		{"backend 404", &BackendError{Status: 404, Num: 1202}, false},
		{"schema error", Schemaf("Invalid filter operator %q", "~~"), false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(Schemaf("bad")))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Client", "Query", "cursor request"))

	base := fmt.Errorf("boom")
	err := Wrap(base, "Client", "Query", "cursor request")
	assert.Equal(t, "Client.Query: cursor request failed: boom", err.Error())
	assert.True(t, Is(err, base))
}

func TestWrapClassified(t *testing.T) {
	err := WrapInvalid(ErrInvalidConfig, "Config", "Validate", "limit check")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Config", ce.Component)
	assert.Equal(t, "Validate", ce.Operation)
	assert.True(t, Is(err, ErrInvalidConfig))
	assert.True(t, IsInvalid(err))

	assert.True(t, IsTransient(WrapTransient(fmt.Errorf("x"), "a", "b", "c")))
	assert.True(t, IsFatal(WrapFatal(fmt.Errorf("x"), "a", "b", "c")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"schema", Schemaf("Invalid filter statement %q", "x"), http.StatusBadRequest},
		{"not found", NotFoundf("%s does not exist", "dataset"), http.StatusNotFound},
		{"not permitted", NotPermittedf("Object deletions are disabled"), http.StatusMethodNotAllowed},
		{"conflict", &ConflictError{Message: "collides"}, http.StatusConflict},
		{"denied", &PermissionDenied{Message: "no"}, http.StatusForbidden},
		{"hook status", &HookRejected{Status: 422, Body: "nope"}, 422},
		{"hook transport", &HookRejected{Err: fmt.Errorf("refused")}, http.StatusInternalServerError},
		{"backend status", &BackendError{Status: 409, Num: 1210}, http.StatusConflict},
		{"backend unreachable", &BackendError{Err: fmt.Errorf("refused")}, http.StatusServiceUnavailable},
		{"wrapped schema", Wrap(Schemaf("bad"), "Compiler", "List", "compile"), http.StatusBadRequest},
		{"classified invalid", WrapInvalid(fmt.Errorf("x"), "a", "b", "c"), http.StatusBadRequest},
		{"plain", fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestHookRejected_Message(t *testing.T) {
	err := &HookRejected{Channel: "pre_create_obj_dataset", Listener: "http://svc/hook", Status: 500, Body: "denied by policy"}
	assert.Equal(t, "denied by policy", err.Error())

	err = &HookRejected{Channel: "pre_create_obj_dataset", Listener: "http://svc/hook", Status: 500}
	assert.Contains(t, err.Error(), "answered 500")

	cause := fmt.Errorf("connection refused")
	err = &HookRejected{Listener: "http://svc/hook", Err: cause}
	assert.True(t, Is(err, cause))
}

func TestTransactionTimeout_Message(t *testing.T) {
	err := &TransactionTimeout{TrxID: "123", ChangedID: "datasets/1", AuditID: "audit_log/9"}
	assert.Equal(t, `transaction 123 did not complete while deferring update of _version of datasets/1 to "audit_log/9"`, err.Error())
}
