package flow

// DescType selects which of an entry's descriptors a lookup matches
// against. Every entry has a primary (default) descriptor; entries with a
// secondary descriptor (dual-sided NAT flows) also answer to it.
type DescType uint8

const (
	// DefaultDescType matches an entry's primary descriptor.
	DefaultDescType DescType = 0
	// SecondaryDescType matches an entry's secondary descriptor, if any.
	SecondaryDescType DescType = 1
)

// Entry is something a Map can store: a TCP or UDP terminator, typically.
// The map holds no ownership — entries insert and remove themselves via
// Map.Insert/Map.Remove and may self-destruct from FlowRemoved.
type Entry interface {
	// DefaultDesc returns this entry's primary descriptor.
	DefaultDesc() Desc

	// MatchFlow reports whether d matches this entry under descType. An
	// entry that doesn't support the requested descType falls back to
	// matching its default descriptor.
	MatchFlow(d Desc, descType DescType) bool

	// ConflictsWith reports whether this entry and other cannot coexist
	// in the map (same descriptor, different object). Callers must check
	// both directions: a.ConflictsWith(b) || b.ConflictsWith(a).
	ConflictsWith(other Entry) bool

	// IsExpired reports whether the map should evict this entry on next
	// lookup that passes through its bucket with ExpireFlows.
	IsExpired() bool

	// FlowRemoved is called once this entry is no longer part of the map,
	// whether due to expiry, clearMap, or cleanup. It may destroy itself;
	// it must not remove any other entry from the map.
	FlowRemoved()

	getNext() Entry
	setNext(e Entry) bool
	stealNext() Entry
}

// dualEntry is implemented by entries carrying a secondary descriptor
// (NAT flows visible under two distinct 5-tuples).
type dualEntry interface {
	Entry
	secondaryDesc() Desc
}

// Base implements the intrusive single-link bookkeeping and the default
// (single-descriptor) matching/conflict behavior. Embed it in a concrete
// flow type (tcpterm.Terminator, udpterm.Terminator) to satisfy Entry.
type Base struct {
	desc Desc
	next Entry
}

// NewBase builds a Base around a primary descriptor.
func NewBase(desc Desc) Base {
	return Base{desc: desc}
}

// DefaultDesc returns the primary descriptor.
func (b *Base) DefaultDesc() Desc { return b.desc }

// SetDefaultDesc replaces the primary descriptor. Must only be called
// while the entry is not part of any Map (i.e. before Insert, or after
// Remove) — like the original, this is not enforced, only documented.
func (b *Base) SetDefaultDesc(desc Desc) { b.desc = desc }

// IsExpired's default never expires; override by embedding Base and
// shadowing the method on the concrete type.
func (b *Base) IsExpired() bool { return false }

// FlowRemoved's default does nothing.
func (b *Base) FlowRemoved() {}

// ConflictsWith reports whether other's default descriptor matches ours.
func (b *Base) ConflictsWith(other Entry) bool {
	return b.desc.Valid() && other != nil && other.MatchFlow(b.desc, DefaultDescType)
}

// MatchFlow ignores descType and compares against the primary descriptor.
func (b *Base) MatchFlow(d Desc, _ DescType) bool {
	return d.Valid() && d.Equal(b.desc)
}

func (b *Base) getNext() Entry { return b.next }

func (b *Base) setNext(e Entry) bool {
	if b.next != nil {
		return false
	}
	b.next = e
	return true
}

func (b *Base) stealNext() Entry {
	n := b.next
	b.next = nil
	return n
}

// DualBase extends Base with a secondary descriptor for flows visible
// under two 5-tuples (e.g. a NAT'd TCP terminator: one descriptor as seen
// from the client, one as seen from the upstream server). Both descriptors
// share the single intrusive next pointer inherited from Base — removal
// re-derives which bucket any trailing entries belong in, since an entry
// can be present in the chain because of either key.
type DualBase struct {
	Base
	secondary Desc
}

// NewDualBase builds a DualBase around a primary descriptor; the secondary
// descriptor starts invalid and is set later via SetSecondaryDesc.
func NewDualBase(primary Desc) DualBase {
	return DualBase{Base: NewBase(primary)}
}

// SecondaryDesc returns the secondary descriptor, which may be invalid if
// this entry has not (yet) been given a dual key.
func (d *DualBase) SecondaryDesc() Desc { return d.secondary }

func (d *DualBase) secondaryDesc() Desc { return d.SecondaryDesc() }

// SetSecondaryDesc replaces the secondary descriptor. Like
// SetDefaultDesc, only safe while not part of a Map.
func (d *DualBase) SetSecondaryDesc(desc Desc) { d.secondary = desc }

// ConflictsWith also checks the secondary descriptor against other.
func (d *DualBase) ConflictsWith(other Entry) bool {
	if d.Base.ConflictsWith(other) {
		return true
	}
	return d.secondary.Valid() && other != nil && other.MatchFlow(d.secondary, SecondaryDescType)
}

// MatchFlow matches against the secondary descriptor when descType asks
// for it and one has been set; otherwise defers to Base.
func (d *DualBase) MatchFlow(desc Desc, descType DescType) bool {
	if descType == SecondaryDescType && d.secondary.Valid() {
		return desc.Valid() && desc.Equal(d.secondary)
	}
	return d.Base.MatchFlow(desc, descType)
}
