// Package gateway holds what the outer surfaces of the service share: their
// configuration, CORS handling, request ids and the JSON error envelope.
//
// # Surfaces
//
//   - REST: /{domain}/api/... and /system/api/... (gateway/http)
//   - GraphQL: /{domain}/graphql, read only (gateway/graphql)
//
// Both surfaces call the domain engine directly; nothing is proxied.
//
// # Errors
//
// Every failure is answered with the status from errors.StatusCode and the
// body
//
//	{"error": "Relation owner does not exist on dataset", "status": 404}
//
// A pre hook that rejects a mutation with a JSON body has that body passed
// through with its own status. Server errors not produced by a hook or the
// backend are answered with the bare status text.
//
// # Example Configuration
//
//	gateway:
//	  enable_cors: true
//	  cors_origins: ["https://app.example.com"]
//	  max_request_size: 10485760
//	  request_timeout: 60s
package gateway
