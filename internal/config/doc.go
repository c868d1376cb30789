// Package config loads and validates the process-wide settings mapping.
//
// Configuration comes from three layers, lowest precedence first:
//
//  1. Compiled-in defaults (Default)
//  2. A YAML settings file, looked up as ./settings.yml then ../settings.yml
//  3. Environment variables with the TXTCONV_ prefix
//
// The resulting Config is populated once during startup and read-only for
// the lifetime of the process.
package config
