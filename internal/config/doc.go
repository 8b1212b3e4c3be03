// Package config loads the service configuration from a YAML file, with
// secrets taken from the environment or a .env file.
package config
