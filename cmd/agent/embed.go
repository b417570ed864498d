package main

import _ "embed"

// embeddedConfig holds the YAML configuration embedded at build time.
// Deployment scripts overwrite embed_config.yaml with site settings
// (InfluxDB host, per_core list) before compiling.
//
//go:embed embed_config.yaml
var embeddedConfig []byte
