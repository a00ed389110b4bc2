// Package config loads and validates the agent YAML configuration file.
package config
