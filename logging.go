package provlog

import "github.com/rs/zerolog"

// logger is the package logger. It discards everything until a caller
// installs one with SetLogger.
var logger = zerolog.Nop()

// SetLogger installs the logger used for validation and stack tracing.
// Verification emits debug events per entry and trace events per stack
// operation.
func SetLogger(l zerolog.Logger) {
	logger = l
}
