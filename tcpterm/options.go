package tcpterm

import (
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Terminator.
type Options struct {
	// MTU of the tunnel interface; 0 disables MSS clamping to it.
	MTU uint16

	// AdjustMSS, if set, overrides the negotiated MSS. The default is the
	// identity function, matching TcpTerminator::adjustMss's default body.
	AdjustMSS func(uint16) uint16

	RetransTime      time.Duration
	LingerTime       time.Duration
	ClosedLingerTime time.Duration

	// Logger receives state-transition and drop diagnostics. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// DefaultOptions mirrors the original's LINGER_TIME/ACKED_FIN_LINGER_TIME/
// RETRANS_TIME constants.
var DefaultOptions = Options{
	RetransTime:      500 * time.Millisecond,
	LingerTime:       30 * time.Second,
	ClosedLingerTime: time.Second,
}

func (o Options) adjustMss(mss uint16) uint16 {
	if o.AdjustMSS != nil {
		return o.AdjustMSS(mss)
	}
	return mss
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}
