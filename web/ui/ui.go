// Package ui embeds the static single-page console served at the daemon root.
package ui

import "embed"

//go:embed index.html
var Files embed.FS
