// Package stdio implements the newline-delimited JSON-RPC transport over a
// process's standard streams. The output stream carries protocol envelopes
// exclusively; diagnostics go to the configured slog logger, which must
// write to stderr or another side channel.
package stdio
