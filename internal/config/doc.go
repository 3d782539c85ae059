// Package config provides configuration loading and validation for the
// audio stream service. It handles YAML-based configuration with struct
// validation and duration helpers for time-valued settings.
package config
