// Package webdata embeds fallback copies of the client pages so the server
// can run without a populated webroot. Files present in the webroot always
// take precedence.
package webdata

import "embed"

//go:embed pages static
var FS embed.FS
