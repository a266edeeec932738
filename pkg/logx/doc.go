// Package logx is the structured logger used across stockwatch.
//
// Logger wraps zerolog with field helpers (String, Int64, Err, ...) and a
// zero value that discards everything. A Service owns the sinks (console and
// an optional append-only file) and can swap level and sinks at runtime when
// the config is reloaded; loggers derived from it follow the swap.
package logx
