package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// SchemaError reports a statement or payload that does not fit the domain
// schema: unknown field, invalid operator, unparsable value, malformed relation
// or schema document.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string { return e.Message }

// Schemaf builds a SchemaError.
func Schemaf(format string, args ...any) error {
	return &SchemaError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown domain, class, relation or object.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// NotFoundf builds a NotFoundError.
func NotFoundf(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// NotPermittedError reports an operation the class does not allow, or a
// deletion while deletions are disabled.
type NotPermittedError struct {
	Message string
}

func (e *NotPermittedError) Error() string { return e.Message }

// NotPermittedf builds a NotPermittedError.
func NotPermittedf(format string, args ...any) error {
	return &NotPermittedError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a naming collision, e.g. between domain labels.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// PermissionDenied is returned by an access-control collaborator and is
// propagated unchanged.
type PermissionDenied struct {
	Message string
}

func (e *PermissionDenied) Error() string { return e.Message }

// HookRejected reports a listener that answered a hook call with a non-2xx
// status, or that could not be reached. Status is zero for transport failures.
type HookRejected struct {
	Channel  string
	Listener string
	Status   int
	Body     string
	Err      error
}

func (e *HookRejected) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error while requesting %s: %v", e.Listener, e.Err)
	}
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("%s listener %s answered %d", e.Channel, e.Listener, e.Status)
}

func (e *HookRejected) Unwrap() error { return e.Err }

// TransactionTimeout reports a deferred version stamp whose transaction never
// reached a final state. It is logged and never returned to a caller.
type TransactionTimeout struct {
	TrxID     string
	ChangedID string
	AuditID   string
	Attempts  int
}

func (e *TransactionTimeout) Error() string {
	return fmt.Sprintf("transaction %s did not complete while deferring update of _version of %s to %q",
		e.TrxID, e.ChangedID, e.AuditID)
}

// BackendError carries the status and error number reported by the document
// store. Status is zero when the store could not be reached.
type BackendError struct {
	Method  string
	URL     string
	Status  int
	Num     int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error on %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("error on %s %s: [%d] %s", e.Method, e.URL, e.Num, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// StatusCode maps an error to the HTTP status a gateway should answer with.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var (
		schemaErr   *SchemaError
		notFound    *NotFoundError
		notAllowed  *NotPermittedError
		conflict    *ConflictError
		denied      *PermissionDenied
		hookErr     *HookRejected
		backendErr  *BackendError
		classified  *ClassifiedError
		trxDeadline *TransactionTimeout
	)

	switch {
	case errors.As(err, &schemaErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &notAllowed):
		return http.StatusMethodNotAllowed
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &hookErr):
		if hookErr.Status > 0 {
			return hookErr.Status
		}
		return http.StatusInternalServerError
	case errors.As(err, &backendErr):
		if backendErr.Status > 0 {
			return backendErr.Status
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &trxDeadline):
		return http.StatusGatewayTimeout
	case errors.As(err, &classified):
		switch classified.Class {
		case ErrorInvalid:
			return http.StatusBadRequest
		case ErrorFatal:
			return http.StatusInternalServerError
		}
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
