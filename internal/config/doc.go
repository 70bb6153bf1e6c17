// Package config provides centralized configuration management for the
// ArcFlow runtime, loading a JSON configuration file and filling in
// sensible defaults for anything the operator leaves out.
package config
