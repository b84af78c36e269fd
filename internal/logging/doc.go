// Package logging configures structured slog logging for docindexer.
//
// Logs go to stderr and, when a file is configured, to a size-rotated file
// that the logs command can tail and follow.
package logging
