package udpterm

import (
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Terminator.
type Options struct {
	// IdleTimeout is how long a terminator may go without receiving or
	// sending a packet before it is removed. Zero disables the timer
	// entirely, matching optMaxInactivityTime's "0 to disable".
	IdleTimeout time.Duration

	// Logger receives lifecycle diagnostics. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultOptions mirrors optMaxInactivityTime's default of 60 seconds.
var DefaultOptions = Options{IdleTimeout: 60 * time.Second}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}
