// Package config handles loading the phi-audit configuration from a YAML file,
// applying defaults and environment overrides, and validating the result.
package config
