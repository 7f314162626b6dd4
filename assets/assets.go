// Package assets embeds the server's built-in pages and static files
// into the binary, so instantd serves a
// working root page, room page, and favicon even with no webroot configured.
package assets

import "embed"

//go:embed pages static
var FS embed.FS
