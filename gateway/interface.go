package gateway

import "net/http"

// HTTPHandler is a surface that adds its routes to a shared mux: the REST
// gateway, the GraphQL endpoint or the metrics registry. Patterns are
// registered under prefix, which is "" at the root.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
