// Package obs wires the engine's structured logging. The core never
// assumes a host has configured a logger (spec.md §9): a first call to
// L() lazily self-initializes a sensible stderr default.
package obs

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	initOnce sync.Once
	logger   atomic.Pointer[zerolog.Logger]
)

func defaultLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// Init installs l as the package-wide logger. Hosts that want their own
// sink/level call this once before touching the database; if they never
// do, L() self-initializes on first use.
func Init(l zerolog.Logger) {
	logger.Store(&l)
}

// L returns the active logger, self-initializing a stderr default the
// first time it's called if the host never called Init.
func L() *zerolog.Logger {
	if p := logger.Load(); p != nil {
		return p
	}
	initOnce.Do(func() {
		if logger.Load() == nil {
			l := defaultLogger()
			logger.Store(&l)
		}
	})
	return logger.Load()
}
