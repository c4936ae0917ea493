package resolve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowterm/flowterm/addr"
)

type queueLoop struct {
	mu  sync.Mutex
	fns []func()
	wg  sync.WaitGroup
}

func (q *queueLoop) RunOnLoop(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	q.wg.Done()
}

func (q *queueLoop) drain() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type aCall struct {
	name    string
	results []addr.Address
}

type srvCall struct {
	name    string
	results []SrvRecord
}

type fakeOwner struct {
	mu       sync.Mutex
	aCalls   []aCall
	srvCalls []srvCall
}

func (o *fakeOwner) DNSLookupComplete(r *Resolver, name string, results []addr.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aCalls = append(o.aCalls, aCall{name, results})
}

func (o *fakeOwner) DNSLookupCompleteSRV(r *Resolver, name string, results []SrvRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.srvCalls = append(o.srvCalls, srvCall{name, results})
}

func addrFor(t *testing.T, s string) addr.Address {
	t.Helper()
	a, ok := addr.Parse(s)
	require.True(t, ok)
	return a
}

func TestStartRejectsInvalidParameters(t *testing.T) {
	owner := &fakeOwner{}
	loop := &queueLoop{}
	r, err := New(owner, loop, DefaultOptions)
	require.NoError(t, err)

	require.Error(t, r.Start(nil, ReqTypeA, "example.com", 0, nil, time.Second))
	require.Error(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeA, "", 0, nil, time.Second))
	require.Error(t, r.Start([]string{"1.1.1.1:53"}, 0, "example.com", 0, nil, time.Second))
	require.Error(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeA|ReqTypeSRV, "example.com", 0, nil, time.Second))
}

func TestCoalescesAAndAAAA(t *testing.T) {
	owner := &fakeOwner{}
	loop := &queueLoop{}
	v4 := addrFor(t, "93.184.216.34")
	v6 := addrFor(t, "2606:2800:220:1:248:1893:25c8:1946")

	opts := Options{
		LookupIP: func(ctx context.Context, servers []string, network, name string) ([]addr.Address, error) {
			if network == "ip4" {
				return []addr.Address{v4}, nil
			}
			return []addr.Address{v6}, nil
		},
	}
	r, err := New(owner, loop, opts)
	require.NoError(t, err)

	loop.wg.Add(2)
	require.NoError(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeA|ReqTypeAAAA, "example.com", 0, nil, time.Second))
	loop.wg.Wait()
	loop.drain()

	require.Len(t, owner.aCalls, 1)
	require.Equal(t, "example.com", owner.aCalls[0].name)
	require.ElementsMatch(t, []addr.Address{v4, v6}, owner.aCalls[0].results)
	require.False(t, r.IsInProgress())
}

func TestStaleResultIsIgnored(t *testing.T) {
	owner := &fakeOwner{}
	loop := &queueLoop{}
	opts := Options{
		LookupIP: func(ctx context.Context, servers []string, network, name string) ([]addr.Address, error) {
			return nil, nil
		},
	}
	r, err := New(owner, loop, opts)
	require.NoError(t, err)

	loop.wg.Add(1)
	require.NoError(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeA, "first.example.com", 0, nil, time.Second))
	loop.wg.Wait()

	loop.wg.Add(1)
	require.NoError(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeA, "second.example.com", 0, nil, time.Second))
	loop.wg.Wait()

	loop.drain()

	require.Len(t, owner.aCalls, 1, "only the current lookup's result should be delivered")
	require.Equal(t, "second.example.com", owner.aCalls[0].name)
}

func TestSRVSortsByPriorityThenWeight(t *testing.T) {
	owner := &fakeOwner{}
	loop := &queueLoop{}
	opts := Options{
		LookupSRV: func(ctx context.Context, servers []string, name string) ([]SrvRecord, error) {
			return []SrvRecord{
				{Target: "low-priority.example.com", Priority: 20, Weight: 1, Port: 5223},
				{Target: "high-priority.example.com", Priority: 10, Weight: 1, Port: 5223},
			}, nil
		},
	}
	r, err := New(owner, loop, opts)
	require.NoError(t, err)

	loop.wg.Add(1)
	require.NoError(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeSRV, "_xmpp._tcp.example.com", 0, nil, time.Second))
	loop.wg.Wait()
	loop.drain()

	require.Len(t, owner.srvCalls, 1)
	results := owner.srvCalls[0].results
	require.Len(t, results, 2)
	require.Equal(t, "high-priority.example.com", results[0].Target)
	require.Equal(t, "low-priority.example.com", results[1].Target)
}

func TestCompareRecordsOrdersByPriorityFirst(t *testing.T) {
	a := SrvRecord{Priority: 1, Weight: 0}
	b := SrvRecord{Priority: 2, Weight: 100}
	require.True(t, compareRecords(a, b))
	require.False(t, compareRecords(b, a))
}

func TestCompareRecordsZeroWeightSumIsStable(t *testing.T) {
	a := SrvRecord{Priority: 5, Weight: 0}
	b := SrvRecord{Priority: 5, Weight: 0}
	require.False(t, compareRecords(a, b))
}

func TestIsInProgressTracksLifecycle(t *testing.T) {
	owner := &fakeOwner{}
	loop := &queueLoop{}
	opts := Options{
		LookupIP: func(ctx context.Context, servers []string, network, name string) ([]addr.Address, error) {
			return nil, nil
		},
	}
	r, err := New(owner, loop, opts)
	require.NoError(t, err)
	require.False(t, r.IsInProgress())

	loop.wg.Add(1)
	require.NoError(t, r.Start([]string{"1.1.1.1:53"}, ReqTypeA, "example.com", 0, nil, time.Second))
	require.True(t, r.IsInProgress())

	loop.wg.Wait()
	loop.drain()
	require.False(t, r.IsInProgress())
}
