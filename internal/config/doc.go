// Package config provides configuration loading and validation for the speech relay and dictate client.
// It handles YAML-based configuration layered over defaults, dotenv loading, and
// environment overrides, validated once at startup.
package config
