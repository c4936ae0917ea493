package flow

import "github.com/rs/zerolog"

// Options configures a Map.
type Options struct {
	// BitSize picks the bucket count (1<<BitSize), 8..30.
	BitSize uint8

	// Logger receives cleanup/eviction diagnostics. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultOptions is a Map sized for a few thousand concurrent flows.
var DefaultOptions = Options{BitSize: 14}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}
