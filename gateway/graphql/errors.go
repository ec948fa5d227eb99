package graphql

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/protojour/pymoriam/errors"
	"github.com/protojour/pymoriam/gateway"
)

// mapError converts an engine error to a GraphQL error whose
// extensions.code is the HTTP status the REST surface would answer with.
func mapError(err error, field *ast.Field, path ast.Path) *gqlerror.Error {
	if err == nil {
		return nil
	}

	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		if gqlErr.Path == nil {
			gqlErr.Path = path
		}
		return gqlErr
	}

	code := errors.StatusCode(err)
	message := gateway.Message(err, code)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code, message = http.StatusGatewayTimeout, "Query timeout exceeded"
	case errors.Is(err, context.Canceled):
		message = "Query cancelled"
	}

	return &gqlerror.Error{
		Message:    message,
		Path:       path,
		Locations:  locations(field),
		Extensions: map[string]interface{}{"code": code},
	}
}

// requestError reports a problem with the query document itself.
func requestError(field *ast.Field, format string, args ...any) *gqlerror.Error {
	return &gqlerror.Error{
		Message:    fmt.Sprintf(format, args...),
		Locations:  locations(field),
		Extensions: map[string]interface{}{"code": http.StatusBadRequest},
	}
}

func locations(field *ast.Field) []gqlerror.Location {
	if field == nil || field.Position == nil {
		return nil
	}
	return []gqlerror.Location{{Line: field.Position.Line, Column: field.Position.Column}}
}

// parseError gives parser errors the request status code.
func parseError(err error) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		gqlErr = &gqlerror.Error{Message: err.Error()}
	}
	if gqlErr.Extensions == nil {
		gqlErr.Extensions = map[string]interface{}{}
	}
	gqlErr.Extensions["code"] = http.StatusBadRequest
	return gqlErr
}
