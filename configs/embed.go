// Package configs embeds the configuration template written by
// `docindexer config init`.
package configs

import _ "embed"

// ProjectConfigTemplate is the commented template for .docindexer.yaml and
// the user config file.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
