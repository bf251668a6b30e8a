// Package api carries the OpenAPI document served at /docs and used for
// request validation.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
