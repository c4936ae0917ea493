package flow

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ExpiryMode controls whether Map.Find evicts expired entries it
// encounters while walking a bucket.
type ExpiryMode int

const (
	// DontExpireFlows performs a pure lookup.
	DontExpireFlows ExpiryMode = iota
	// ExpireFlows triggers a cleanup pass of the bucket if any entry in
	// it reports IsExpired.
	ExpireFlows
)

// Map is a flow-hash map: an array of 2^bitSize buckets, each a singly
// linked list of Entry values threaded through their intrusive next
// pointer. bitSize must be in [8, 30].
type Map struct {
	bitSize uint8
	mask    uint32
	buckets []Entry
	used    uint32
	log     zerolog.Logger
}

// NewMap allocates a flow map with 2^bitSize buckets and no logging.
func NewMap(bitSize uint8) (*Map, error) {
	return NewMapWithOptions(Options{BitSize: bitSize})
}

// NewMapWithOptions allocates a flow map per opts.
func NewMapWithOptions(opts Options) (*Map, error) {
	if opts.BitSize < 8 || opts.BitSize > 30 {
		return nil, fmt.Errorf("flow: bitSize %d out of range [8,30]", opts.BitSize)
	}
	size := uint32(1) << opts.BitSize
	return &Map{
		bitSize: opts.BitSize,
		mask:    size - 1,
		buckets: make([]Entry, size),
		log:     opts.logger(),
	}, nil
}

// IsEmpty reports whether every bucket is empty.
func (m *Map) IsEmpty() bool {
	return m.used == 0
}

func (m *Map) index(d Desc) uint32 {
	h := d.Hash()
	return ((h >> m.bitSize) ^ h) & m.mask
}

// insertAt performs the single-key insert algorithm: walk the bucket,
// succeed immediately if e is already present, fail if e conflicts with
// anything already there, otherwise append.
func (m *Map) insertAt(e Entry, d Desc) bool {
	if e == nil || !d.Valid() {
		return false
	}
	idx := m.index(d)
	ptr := m.buckets[idx]
	if ptr == nil {
		m.buckets[idx] = e
		m.used++
		return true
	}
	for {
		if ptr == e {
			return true
		}
		if ptr.ConflictsWith(e) || e.ConflictsWith(ptr) {
			return false
		}
		if ptr.setNext(e) {
			return true
		}
		ptr = ptr.getNext()
	}
}

// removeAt unlinks e from the bucket d hashes to, if present.
func (m *Map) removeAt(e Entry, d Desc) {
	if e == nil || !d.Valid() {
		return
	}
	idx := m.index(d)
	var prev Entry
	ptr := m.buckets[idx]
	for ptr != nil {
		if ptr != e {
			prev = ptr
			ptr = ptr.getNext()
			continue
		}
		next := ptr.stealNext()
		if prev == nil {
			m.buckets[idx] = next
			if next == nil {
				m.used--
			}
		} else {
			prev.stealNext()
			prev.setNext(next)
		}
		return
	}
}

// Insert adds e to the map under its primary descriptor, and under its
// secondary descriptor too if e carries one. Inserting an entry already
// present succeeds. A conflict with an existing entry under either
// descriptor fails the whole insert without leaving a partial trace.
func (m *Map) Insert(e Entry) bool {
	if e == nil {
		return false
	}
	if !m.insertAt(e, e.DefaultDesc()) {
		return false
	}
	de, ok := e.(dualEntry)
	if !ok {
		return true
	}
	sd := de.secondaryDesc()
	if !sd.Valid() {
		return true
	}
	if m.insertAt(e, sd) {
		return true
	}
	m.removeAt(e, e.DefaultDesc())
	return false
}

// Remove unlinks e from the map entirely. For a dual-keyed entry, any
// entries that followed it in its bucket's chain are re-inserted, since
// they may have been chained there via either descriptor.
func (m *Map) Remove(e Entry) {
	if e == nil {
		return
	}
	de, ok := e.(dualEntry)
	if !ok {
		m.removeAt(e, e.DefaultDesc())
		return
	}
	sd := de.secondaryDesc()
	if !sd.Valid() {
		m.removeAt(e, e.DefaultDesc())
		return
	}

	next := e.stealNext()
	m.removeAt(e, e.DefaultDesc())
	m.removeAt(e, sd)

	for next != nil {
		ptr := next
		next = ptr.stealNext()
		m.Insert(ptr)
	}
}

// Find looks up the entry matching d under descType. With ExpireFlows, if
// any entry in the traversed bucket reports IsExpired, the bucket is
// rebuilt via cleanup before the search restarts (once) in
// DontExpireFlows mode, so a cleanup can never recurse into itself.
func (m *Map) Find(d Desc, descType DescType, mode ExpiryMode) Entry {
	if !d.Valid() {
		return nil
	}
	idx := m.index(d)
	for ptr := m.buckets[idx]; ptr != nil; {
		if mode == ExpireFlows && ptr.IsExpired() {
			mode = DontExpireFlows
			m.cleanup(idx)
			ptr = m.buckets[idx]
			continue
		}
		if ptr.MatchFlow(d, descType) {
			return ptr
		}
		ptr = ptr.getNext()
	}
	return nil
}

// cleanup detaches bucket idx's whole chain and re-inserts every entry
// that isn't expired, calling FlowRemoved on the ones that are.
func (m *Map) cleanup(idx uint32) {
	ptr := m.buckets[idx]
	if ptr == nil {
		return
	}
	m.buckets[idx] = nil
	m.used--

	for ptr != nil {
		next := ptr.stealNext()
		if ptr.IsExpired() {
			m.log.Debug().Uint32("bucket", idx).Msg("evicting expired flow entry")
			m.Remove(ptr)
			ptr.FlowRemoved()
		} else {
			m.Insert(ptr)
		}
		ptr = next
	}
}

// Clear empties every bucket, calling FlowRemoved on every entry. Entries
// must not touch the map from inside FlowRemoved.
func (m *Map) Clear() {
	if m.used == 0 {
		return
	}
	for idx := range m.buckets {
		ptr := m.buckets[idx]
		m.buckets[idx] = nil
		if ptr == nil {
			continue
		}
		m.used--
		for ptr != nil {
			next := ptr.stealNext()
			ptr.FlowRemoved()
			ptr = next
		}
	}
}
