// Package config holds the recorder's session configuration.
//
// A Config is built once, before capture starts, from defaults, an optional
// YAML file and DUOFUSION_* environment overrides. It is validated against
// an embedded CUE schema and a set of filesystem checks, then treated as
// immutable for the lifetime of the session.
package config
