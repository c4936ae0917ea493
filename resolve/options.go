package resolve

import (
	"context"
	"net"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/flowterm/flowterm/addr"
)

// LookupIPFunc performs an A (network "ip4") or AAAA (network "ip6") query
// against the given candidate servers.
type LookupIPFunc func(ctx context.Context, servers []string, network, name string) ([]addr.Address, error)

// LookupSRVFunc performs a direct SRV query (not the service/proto-prefixed
// form) against the given candidate servers.
type LookupSRVFunc func(ctx context.Context, servers []string, name string) ([]SrvRecord, error)

// Options configures a Resolver.
type Options struct {
	// LookupIP performs the wire A/AAAA query. Nil uses defaultLookupIP,
	// which dials the first of servers directly via net.Resolver.
	LookupIP LookupIPFunc

	// LookupSRV performs the wire SRV query. Nil uses defaultLookupSRV.
	LookupSRV LookupSRVFunc

	// Logger receives lookup failure and staleness diagnostics. Nil
	// disables logging.
	Logger *zerolog.Logger
}

// DefaultOptions resolves over the network via the stdlib resolver.
var DefaultOptions = Options{LookupIP: defaultLookupIP, LookupSRV: defaultLookupSRV}

func (o Options) lookupIP(ctx context.Context, servers []string, network, name string) ([]addr.Address, error) {
	if o.LookupIP != nil {
		return o.LookupIP(ctx, servers, network, name)
	}
	return defaultLookupIP(ctx, servers, network, name)
}

func (o Options) lookupSRV(ctx context.Context, servers []string, name string) ([]SrvRecord, error) {
	if o.LookupSRV != nil {
		return o.LookupSRV(ctx, servers, name)
	}
	return defaultLookupSRV(ctx, servers, name)
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// resolverFor builds a resolver that queries the first of servers
// directly, the idiomatic way to target a specific DNS server with the
// stdlib resolver; an empty server list falls back to the system resolver.
func resolverFor(servers []string) *net.Resolver {
	if len(servers) == 0 {
		return net.DefaultResolver
	}
	server := servers[0]
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, server)
		},
	}
}

func defaultLookupIP(ctx context.Context, servers []string, network, name string) ([]addr.Address, error) {
	ips, err := resolverFor(servers).LookupIP(ctx, network, name)
	if err != nil {
		return nil, err
	}
	out := make([]addr.Address, 0, len(ips))
	for _, ip := range ips {
		na, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		out = append(out, addr.FromNetip(na.Unmap()))
	}
	return out, nil
}

func defaultLookupSRV(ctx context.Context, servers []string, name string) ([]SrvRecord, error) {
	// Empty service/proto makes LookupSRV query name directly, rather than
	// the usual "_service._proto.name" form.
	_, srvs, err := resolverFor(servers).LookupSRV(ctx, "", "", name)
	if err != nil {
		return nil, err
	}
	out := make([]SrvRecord, 0, len(srvs))
	for _, s := range srvs {
		out = append(out, SrvRecord{
			Target:   trimTrailingDot(s.Target),
			Priority: s.Priority,
			Weight:   s.Weight,
			Port:     s.Port,
		})
	}
	return out, nil
}

func trimTrailingDot(s string) string {
	if n := len(s); n > 0 && s[n-1] == '.' {
		return s[:n-1]
	}
	return s
}
