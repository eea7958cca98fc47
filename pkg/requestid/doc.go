// Package requestid tags each HTTP request with a correlation id and feeds it
// into slog records through a logger.ContextExtractor.
package requestid
