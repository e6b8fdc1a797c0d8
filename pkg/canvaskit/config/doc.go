// Package config loads canvaskit client settings.
//
// Settings come from a YAML or JSON file, or from a map built in code, and
// are read through Config's typed accessors with explicit defaults:
//
//	cfg, err := config.FromFile("canvaskit.yaml")
//	client, err := config.ClientFrom(cfg)
//
// ClientFrom validates the result with struct tags, so a bad base URL or a
// zero upload concurrency fails at startup rather than at first use.
package config
