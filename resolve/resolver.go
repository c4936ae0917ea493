// Package resolve implements an asynchronous DNS front-end: Start spawns
// one worker goroutine per requested record type, each performing its own
// blocking lookup, and delivers every result back onto the owner's event
// loop so the Owner callbacks never run concurrently with the rest of its
// state. A and AAAA lookups started together are coalesced into a single
// callback; SRV is always delivered on its own.
package resolve

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowterm/flowterm/addr"
	"github.com/flowterm/flowterm/ferr"
	"github.com/flowterm/flowterm/ioface"
)

// Owner receives the results of a lookup started with Resolver.Start. It is
// safe to start a new lookup, or let the Resolver be discarded, from inside
// either callback.
type Owner interface {
	// DNSLookupComplete is called once every A/AAAA lookup requested
	// together has completed, with the coalesced, deduplicated address
	// list (empty if all of them failed).
	DNSLookupComplete(r *Resolver, name string, results []addr.Address)

	// DNSLookupCompleteSRV is called once an SRV lookup completes, with
	// results already sorted by compareRecords (empty on failure).
	DNSLookupCompleteSRV(r *Resolver, name string, results []SrvRecord)
}

type queryType uint8

const (
	queryA queryType = iota
	queryAAAA
	querySRV
)

// Resolver runs at most one lookup operation at a time; starting a new one
// abandons whatever was in progress.
type Resolver struct {
	owner Owner
	loop  ioface.EventLoop
	opts  Options
	log   zerolog.Logger

	currentName string
	currentID   uint32
	lastID      uint32

	// reqType tracks which of ReqTypeA/ReqTypeAAAA/ReqTypeSRV are still
	// outstanding for the current operation.
	reqType ReqType

	// pending collects deduplicated A/AAAA results until every requested
	// address family has answered.
	pending map[addr.Address]struct{}
}

// New builds a Resolver that delivers results to owner via loop.
func New(owner Owner, loop ioface.EventLoop, opts Options) (*Resolver, error) {
	if owner == nil || loop == nil {
		return nil, ferr.ErrInvalidParameter
	}
	return &Resolver{
		owner:   owner,
		loop:    loop,
		opts:    opts,
		log:     opts.logger(),
		pending: make(map[addr.Address]struct{}),
	}, nil
}

// IsInProgress reports whether a lookup is currently running.
func (r *Resolver) IsInProgress() bool { return r.currentID > 0 }

// Start begins a lookup for name against dnsServers. reqType selects which
// record types to fetch: ReqTypeA and ReqTypeAAAA may be combined, but
// ReqTypeSRV must be requested alone. A lookup already in progress is
// abandoned. timeout is clamped into (0, MaxTimeout]; 0 means MaxTimeout.
func (r *Resolver) Start(dnsServers []string, reqType ReqType, name string, flags ReqFlag, iface *IfaceConfig, timeout time.Duration) error {
	if name == "" || len(dnsServers) < 1 || reqType&(ReqTypeA|ReqTypeAAAA|ReqTypeSRV) == 0 {
		return ferr.ErrInvalidParameter
	}
	if reqType&ReqTypeSRV != 0 && reqType != ReqTypeSRV {
		return ferr.ErrInvalidParameter
	}

	r.Stop()

	r.reqType = reqType
	r.currentName = name
	for {
		r.lastID++
		if r.lastID != 0 {
			break
		}
	}
	r.currentID = r.lastID

	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	servers := append([]string(nil), dnsServers...)
	id := r.currentID
	remaining := reqType
	for remaining != 0 {
		var qType queryType
		switch {
		case remaining&ReqTypeA != 0:
			remaining &^= ReqTypeA
			qType = queryA
		case remaining&ReqTypeAAAA != 0:
			remaining &^= ReqTypeAAAA
			qType = queryAAAA
		case remaining&ReqTypeSRV != 0:
			remaining &^= ReqTypeSRV
			qType = querySRV
		default:
			remaining = 0
			continue
		}
		go r.runQuery(id, qType, name, servers, timeout)
	}

	return nil
}

// Stop abandons any lookup in progress. No further callbacks will be
// delivered for it.
func (r *Resolver) Stop() {
	r.reqType = 0
	r.currentID = 0
	r.currentName = ""
	r.pending = make(map[addr.Address]struct{})
}

func (r *Resolver) runQuery(id uint32, qType queryType, name string, servers []string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var addrs []addr.Address
	var srvs []SrvRecord
	var err error

	switch qType {
	case queryA:
		addrs, err = r.opts.lookupIP(ctx, servers, "ip4", name)
	case queryAAAA:
		addrs, err = r.opts.lookupIP(ctx, servers, "ip6", name)
	case querySRV:
		srvs, err = r.opts.lookupSRV(ctx, servers, name)
	}

	if err != nil {
		r.log.Debug().Err(err).Str("name", name).Msg("DNS lookup failed")
	}

	r.loop.RunOnLoop(func() {
		r.lookupComplete(id, qType, addrs, srvs)
	})
}

// lookupComplete runs on the owner loop: it is where every cross-goroutine
// result lands, so no locking is needed against Start/Stop.
func (r *Resolver) lookupComplete(id uint32, qType queryType, addrs []addr.Address, srvs []SrvRecord) {
	if id != r.currentID {
		r.log.Debug().Uint32("id", id).Uint32("current", r.currentID).Msg("ignoring stale DNS lookup result")
		return
	}

	name := r.currentName

	if qType == querySRV {
		r.reqType &^= ReqTypeSRV
		r.currentID = 0

		sortSrvRecords(srvs)
		r.owner.DNSLookupCompleteSRV(r, name, srvs)
		return
	}

	if qType == queryA {
		r.reqType &^= ReqTypeA
	} else {
		r.reqType &^= ReqTypeAAAA
	}

	for _, a := range addrs {
		r.pending[a] = struct{}{}
	}

	if r.reqType&(ReqTypeA|ReqTypeAAAA) != 0 {
		// Still waiting on the other address family.
		return
	}

	r.currentID = 0
	results := make([]addr.Address, 0, len(r.pending))
	for a := range r.pending {
		results = append(results, a)
	}
	r.pending = make(map[addr.Address]struct{})

	r.owner.DNSLookupComplete(r, name, results)
}

// sortSrvRecords orders by priority ascending (lower value = higher
// priority), randomizing ties by weight: the higher a.Weight relative to
// a.Weight+b.Weight, the more likely a sorts first.
func sortSrvRecords(records []SrvRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return compareRecords(records[i], records[j])
	})
}

func compareRecords(a, b SrvRecord) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	sum := int(a.Weight) + int(b.Weight)
	if sum == 0 {
		return false
	}
	return rand.Intn(sum) < int(a.Weight)
}
