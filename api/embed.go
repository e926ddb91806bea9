// Package api embeds the OpenAPI specification for the Sightline HTTP API
// so the server can serve it at runtime.
package api

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3.1 YAML specification.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
