// Package session runs one recording session end to end.
//
// A Controller owns the session lifecycle: it allocates the session
// directory, configures both sensors, wires the capture orchestrator, the
// staging writer and the quality estimator into a scheduler, and on every
// exit path drains persistence, migrates the session to durable storage,
// writes the summary document and records the session in the catalog.
package session
