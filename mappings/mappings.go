// Package mappings bundles the default mapping definitions.
package mappings

import "embed"

// FS holds the bundled *.smtt definitions.
//
//go:embed *.smtt
var FS embed.FS
