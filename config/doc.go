// Package config loads the engine configuration and filter profiles from YAML.
//
// Files are decoded over built-in defaults with unknown keys rejected, then
// checked with validator struct tags and cross-field rules. Watcher reloads a
// profile file on change so a running engine can swap pipelines without a
// restart.
package config
