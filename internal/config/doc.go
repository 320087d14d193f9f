// Package config loads mechafeed settings from defaults, an optional JSON or
// YAML file, MECHAFEED_* environment variables and command-line flags, in
// that order of precedence.
package config
