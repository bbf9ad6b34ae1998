// Package config loads tickrun's configuration file (JSON or YAML) and watches it
// for changes.
package config
