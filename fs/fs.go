// Package appfs embeds the SQL migrations and email templates shipped with the binaries.
package appfs

import "embed"

//go:embed migrations/*.sql all:templates
var FS embed.FS
