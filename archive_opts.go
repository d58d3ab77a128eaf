package payload

import "log/slog"

// Option configures an Archive while it is being loaded.
type Option func(*Archive)

// WithMaxFileSize limits the maximum per-entry size (stored and uncompressed).
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxFileSize = limit
	}
}

// WithVerifyOnClose controls whether Close drains a streamed file to verify
// its hash.
//
// When false, Close returns without reading the remaining data. Integrity is
// only guaranteed when callers read to EOF.
func WithVerifyOnClose(enabled bool) Option {
	return func(a *Archive) {
		a.verifyOnClose = enabled
	}
}

// WithLogger sets the logger used for load and read diagnostics.
// By default logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}
