package lib

import (
	"net"
	"time"
)

// Ref is a weak cross-table reference: a slot index plus the generation the
// referrer observed there. A stale Ref's Resolve returns (zero, false)
// instead of aliasing a reused slot (spec.md §9 "Cross-table pointers").
type Ref struct {
	Index int
	Gen   uint32
	valid bool
}

const noIndex = -1

// --- Address table (C2) -----------------------------------------------

type AddrType uint8

const (
	AddrAutoconf AddrType = iota
	AddrManual
	AddrTentativeType
	AddrAnycast
	AddrMulticastType
)

type AddrState uint8

const (
	StateTentative AddrState = iota
	StatePreferred
	StateDeprecated
)

type AddrEntry struct {
	inUse      bool
	gen        uint32
	IP         net.IP
	Type       AddrType
	State      AddrState
	Infinite   bool
	ValidUntil time.Time
}

// AddressTable is a fixed-capacity array of unicast/anycast addresses,
// linear-scanned by IP equality (spec.md §4.2).
type AddressTable struct {
	slots []AddrEntry
}

func NewAddressTable(capacity int) *AddressTable {
	return &AddressTable{slots: make([]AddrEntry, capacity)}
}

func (t *AddressTable) Lookup(ip net.IP) (*AddrEntry, bool) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].IP.Equal(ip) {
			return &t.slots[i], true
		}
	}
	return nil, false
}

// Insert finds an existing entry for ip or the first free slot, populating
// it. Returns ErrNoSpace when neither exists.
func (t *AddressTable) Insert(ip net.IP, typ AddrType, state AddrState, infinite bool, validUntil time.Time) (*AddrEntry, error) {
	if e, ok := t.Lookup(ip); ok {
		e.Type, e.State, e.Infinite, e.ValidUntil = typ, state, infinite, validUntil
		return e, nil
	}
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = AddrEntry{
				inUse: true, gen: t.slots[i].gen + 1,
				IP: ip, Type: typ, State: state, Infinite: infinite, ValidUntil: validUntil,
			}
			return &t.slots[i], nil
		}
	}
	return nil, ErrNoSpace
}

func (t *AddressTable) Remove(ip net.IP) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].IP.Equal(ip) {
			t.slots[i] = AddrEntry{gen: t.slots[i].gen}
		}
	}
}

func (t *AddressTable) All() []*AddrEntry {
	var out []*AddrEntry
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// --- Multicast subscription table (original_source supplement D.4) ----

type MulticastEntry struct {
	inUse bool
	Group net.IP
}

type MulticastTable struct {
	slots []MulticastEntry
}

func NewMulticastTable(capacity int) *MulticastTable {
	return &MulticastTable{slots: make([]MulticastEntry, capacity)}
}

func (t *MulticastTable) Join(group net.IP) error {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].Group.Equal(group) {
			return nil
		}
	}
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = MulticastEntry{inUse: true, Group: group}
			return nil
		}
	}
	return ErrNoSpace
}

func (t *MulticastTable) Leave(group net.IP) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].Group.Equal(group) {
			t.slots[i] = MulticastEntry{}
		}
	}
}

// SolicitedNodeMulticast derives the solicited-node multicast address
// ff02::1:ffXX:XXXX for a unicast/anycast target address.
func SolicitedNodeMulticast(addr net.IP) net.IP {
	a := to16(addr)
	g := net.ParseIP("ff02::1:ff00:0000")
	copy(g[13:], a[13:])
	return g
}

// --- Prefix table -------------------------------------------------------

type PrefixEntry struct {
	inUse         bool
	Prefix        net.IP
	PrefixLen     uint8
	Advertise     bool // router-held
	OnLink        bool
	Autonomous    bool
	ValidLifetime time.Time
	PreferredLife time.Time
	Infinite      bool
}

type PrefixTable struct {
	slots []PrefixEntry
}

func NewPrefixTable(capacity int) *PrefixTable {
	return &PrefixTable{slots: make([]PrefixEntry, capacity)}
}

func (t *PrefixTable) Lookup(prefix net.IP, prefixLen uint8) (*PrefixEntry, bool) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].PrefixLen == prefixLen && t.slots[i].Prefix.Mask(net.CIDRMask(int(prefixLen), 128)).Equal(prefix.Mask(net.CIDRMask(int(prefixLen), 128))) {
			return &t.slots[i], true
		}
	}
	return nil, false
}

func (t *PrefixTable) Insert(e PrefixEntry) (*PrefixEntry, error) {
	if existing, ok := t.Lookup(e.Prefix, e.PrefixLen); ok {
		*existing = e
		existing.inUse = true
		return existing, nil
	}
	for i := range t.slots {
		if !t.slots[i].inUse {
			e.inUse = true
			t.slots[i] = e
			return &t.slots[i], nil
		}
	}
	return nil, ErrNoSpace
}

func (t *PrefixTable) Remove(prefix net.IP, prefixLen uint8) {
	if e, ok := t.Lookup(prefix, prefixLen); ok {
		*e = PrefixEntry{}
	}
}

func (t *PrefixTable) All() []*PrefixEntry {
	var out []*PrefixEntry
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// --- 6LoWPAN context table ----------------------------------------------

type ContextState uint8

const (
	ContextUnused ContextState = iota
	ContextInUseCompress
	ContextInUseUncompressOnly
)

type ContextEntry struct {
	inUse      bool
	gen        uint32
	ContextID  uint8 // 4-bit slot index, also the array index
	Prefix     net.IP
	PrefixLen  uint8
	State      ContextState
	GrantedAt  time.Time // when this grant's ValidUntil was set, for the
	// compression-state demotion fraction (original_source supplement D.6)
	ValidUntil time.Time
	DefRtRef   Ref // associated default-router lifetime source
}

// ContextTable is indexed directly by the 4-bit context ID (spec.md §3).
type ContextTable struct {
	slots [16]ContextEntry
}

func NewContextTable() *ContextTable {
	return &ContextTable{}
}

func (t *ContextTable) Get(id uint8) (*ContextEntry, bool) {
	if id > 15 || !t.slots[id].inUse {
		return nil, false
	}
	return &t.slots[id], true
}

func (t *ContextTable) Set(id uint8, prefix net.IP, prefixLen uint8, state ContextState, now, validUntil time.Time, defrt Ref) *ContextEntry {
	e := &t.slots[id&0x0f]
	e.inUse = true
	e.gen++
	e.ContextID = id & 0x0f
	e.Prefix = prefix
	e.PrefixLen = prefixLen
	e.State = state
	e.GrantedAt = now
	e.ValidUntil = validUntil
	e.DefRtRef = defrt
	return e
}

func (t *ContextTable) Remove(id uint8) {
	if id > 15 {
		return
	}
	gen := t.slots[id].gen
	t.slots[id] = ContextEntry{gen: gen}
}

func (t *ContextTable) All() []*ContextEntry {
	var out []*ContextEntry
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// --- Default router list -------------------------------------------------

type DefaultRouterEntry struct {
	inUse    bool
	gen      uint32
	Address  net.IP // link-local
	Deadline time.Time
	Infinite bool
}

type DefaultRouterTable struct {
	slots []DefaultRouterEntry
}

func NewDefaultRouterTable(capacity int) *DefaultRouterTable {
	return &DefaultRouterTable{slots: make([]DefaultRouterEntry, capacity)}
}

func (t *DefaultRouterTable) Lookup(addr net.IP) (*DefaultRouterEntry, bool) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].Address.Equal(addr) {
			return &t.slots[i], true
		}
	}
	return nil, false
}

func (t *DefaultRouterTable) RefOf(e *DefaultRouterEntry) Ref {
	for i := range t.slots {
		if &t.slots[i] == e {
			return Ref{Index: i, Gen: e.gen, valid: true}
		}
	}
	return Ref{Index: noIndex}
}

func (t *DefaultRouterTable) Resolve(r Ref) (*DefaultRouterEntry, bool) {
	if !r.valid || r.Index < 0 || r.Index >= len(t.slots) {
		return nil, false
	}
	e := &t.slots[r.Index]
	if !e.inUse || e.gen != r.Gen {
		return nil, false
	}
	return e, true
}

func (t *DefaultRouterTable) Insert(addr net.IP, deadline time.Time, infinite bool) (*DefaultRouterEntry, error) {
	if e, ok := t.Lookup(addr); ok {
		e.Deadline, e.Infinite = deadline, infinite
		return e, nil
	}
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = DefaultRouterEntry{inUse: true, gen: t.slots[i].gen + 1, Address: addr, Deadline: deadline, Infinite: infinite}
			return &t.slots[i], nil
		}
	}
	return nil, ErrNoSpace
}

func (t *DefaultRouterTable) Remove(addr net.IP) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].Address.Equal(addr) {
			t.slots[i] = DefaultRouterEntry{gen: t.slots[i].gen}
		}
	}
}

// Best selects the longest-lifetime live entry (spec.md §3 "Selecting the
// router").
func (t *DefaultRouterTable) Best(now time.Time) (*DefaultRouterEntry, bool) {
	var best *DefaultRouterEntry
	for i := range t.slots {
		e := &t.slots[i]
		if !e.inUse {
			continue
		}
		if !e.Infinite && !e.Deadline.After(now) {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		if e.Infinite && !best.Infinite {
			best = e
			continue
		}
		if !e.Infinite && !best.Infinite && e.Deadline.After(best.Deadline) {
			best = e
		}
	}
	return best, best != nil
}

func (t *DefaultRouterTable) All() []*DefaultRouterEntry {
	var out []*DefaultRouterEntry
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// --- Neighbor cache -------------------------------------------------------

type ReachState uint8

const (
	NeighborStale ReachState = iota
	NeighborDelay
	NeighborProbe
	NeighborReachable
	// NeighborIncomplete exists only transiently; spec.md §3 forbids a
	// neighbor ever resting in this state (resolution piggybacks on
	// registration), so nothing in this package leaves an entry here.
	NeighborIncomplete
)

type NeighborEntry struct {
	inUse       bool
	gen         uint32
	IP          net.IP
	LLAddr      net.HardwareAddr
	State       ReachState
	IsRouter    bool
	Deadline    time.Time
	ProbeCount  int
	QueuedFrame []byte
}

type NeighborTable struct {
	slots []NeighborEntry
}

func NewNeighborTable(capacity int) *NeighborTable {
	return &NeighborTable{slots: make([]NeighborEntry, capacity)}
}

func (t *NeighborTable) Lookup(ip net.IP) (*NeighborEntry, bool) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].IP.Equal(ip) {
			return &t.slots[i], true
		}
	}
	return nil, false
}

// Upsert inserts or refreshes a neighbor entry. If lladdr changes from what
// was stored, the state is forced to stale (spec.md §4.4.1).
func (t *NeighborTable) Upsert(ip net.IP, lladdr net.HardwareAddr, isRouter bool) (*NeighborEntry, error) {
	if e, ok := t.Lookup(ip); ok {
		if e.LLAddr != nil && string(e.LLAddr) != string(lladdr) {
			e.State = NeighborStale
		}
		e.LLAddr = lladdr
		if isRouter {
			e.IsRouter = true
		}
		if e.State == NeighborIncomplete {
			e.State = NeighborStale
		}
		return e, nil
	}
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = NeighborEntry{
				inUse: true, gen: t.slots[i].gen + 1,
				IP: ip, LLAddr: lladdr, State: NeighborStale, IsRouter: isRouter,
			}
			return &t.slots[i], nil
		}
	}
	return nil, ErrNoSpace
}

func (t *NeighborTable) Remove(ip net.IP) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].IP.Equal(ip) {
			t.slots[i] = NeighborEntry{gen: t.slots[i].gen}
		}
	}
}

func (t *NeighborTable) All() []*NeighborEntry {
	var out []*NeighborEntry
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// --- Registration table (router only) ------------------------------------

type RegState uint8

const (
	RegTentative RegState = iota
	RegRegistered
	RegToBeUnregistered
	RegGarbage
)

type RegistrationEntry struct {
	inUse       bool
	gen         uint32
	EUI64       [8]byte
	Address     net.IP
	DefRtRef    Ref
	State       RegState
	Lifetime    time.Time // deadline; zero value with State==RegToBeUnregistered means "now"
	RetxCount   int
	Key         [32]byte // pre-shared K_eui64
	LastCounter Nonce
}

type RegistrationTable struct {
	slots []RegistrationEntry
}

func NewRegistrationTable(capacity int) *RegistrationTable {
	return &RegistrationTable{slots: make([]RegistrationEntry, capacity)}
}

func (t *RegistrationTable) LookupByAddr(addr net.IP) (*RegistrationEntry, bool) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].Address.Equal(addr) {
			return &t.slots[i], true
		}
	}
	return nil, false
}

func (t *RegistrationTable) LookupByEUI64(eui [8]byte) (*RegistrationEntry, bool) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].EUI64 == eui {
			return &t.slots[i], true
		}
	}
	return nil, false
}

// Insert finds a free slot for a brand new (eui64, addr) pair. Callers must
// have already checked LookupByAddr for the DAD-arbitration decision.
func (t *RegistrationTable) Insert(eui [8]byte, addr net.IP, defrt Ref, state RegState, lifetime time.Time, key [32]byte) (*RegistrationEntry, error) {
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = RegistrationEntry{
				inUse: true, gen: t.slots[i].gen + 1,
				EUI64: eui, Address: addr, DefRtRef: defrt, State: state, Lifetime: lifetime, Key: key,
			}
			return &t.slots[i], nil
		}
	}
	return nil, ErrNoSpace
}

func (t *RegistrationTable) Remove(e *RegistrationEntry) {
	gen := e.gen
	*e = RegistrationEntry{gen: gen}
}

// RemoveByDefRt implements cleanup_defrt: every registration bound to the
// removed default-router entry is removed (spec.md §3).
func (t *RegistrationTable) RemoveByDefRt(ref Ref) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].DefRtRef.valid && t.slots[i].DefRtRef.Index == ref.Index && t.slots[i].DefRtRef.Gen == ref.Gen {
			t.slots[i] = RegistrationEntry{gen: t.slots[i].gen}
		}
	}
}

// RemoveByAddr implements cleanup_addr: every registration for this address
// is removed.
func (t *RegistrationTable) RemoveByAddr(addr net.IP) {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].Address.Equal(addr) {
			t.slots[i] = RegistrationEntry{gen: t.slots[i].gen}
		}
	}
}

func (t *RegistrationTable) All() []*RegistrationEntry {
	var out []*RegistrationEntry
	for i := range t.slots {
		if t.slots[i].inUse {
			out = append(out, &t.slots[i])
		}
	}
	return out
}
