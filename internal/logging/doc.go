// Package logging provides structured file-based logging with rotation for the
// knowledge-base service. Logs are JSON-formatted via log/slog and written to a
// rotating file, optionally mirrored to stderr. Each process component (the
// CLI, the background worker) gets its own log file and a "component" field
// on every record, so a shared log directory can be tailed or filtered by
// component.
package logging
