// Package api ships the OpenAPI description of the HTTP interface.
package api

import _ "embed"

// OpenAPISpec is served at /api/docs/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
