// Package api embeds the portal's OpenAPI document so the binary serves and
// validates against the same file that ships in the repository.
package api

import _ "embed"

//go:embed openapi.yml
var OpenAPI []byte
