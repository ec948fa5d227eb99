// Package errors implements a three-class error classification (transient,
// invalid, fatal) plus the domain error taxonomy used across the service.
//
// Classification drives retry decisions in the backend client and the
// deferred version stamper:
//
//	if errors.IsTransient(err) {
//	    // retry with backoff
//	}
//
// Domain errors carry enough information for a gateway to answer with the
// right status:
//
//	err := errors.Schemaf("Invalid filter operator %q", op)
//	errors.StatusCode(err) // 400
//
// HookRejected keeps the listener's status and body so that a rejected
// mutation is reported with exactly what the hook answered. BackendError keeps
// the store's errorNum and errorMessage. TransactionTimeout is produced only
// by background work and is logged, never returned to a request.
//
// Wrap follows the "component.method: action failed: %w" convention:
//
//	return errors.Wrap(err, "Client", "Query", "cursor request")
package errors
