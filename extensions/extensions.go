// Package extensions bundles the default extension scripts.
package extensions

import "embed"

// FS holds the bundled *.risor scripts.
//
//go:embed *.risor
var FS embed.FS
