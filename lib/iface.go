package lib

import (
	"log/slog"
	"net"
	"time"
)

// Role selects which half of the C4 state machine an Interface runs.
type Role uint8

const (
	RoleRouter Role = iota
	RoleHost
)

// Timing constants from spec.md §4.4/§4.5/§6.2.
const (
	MaxRtrSolicitations        = 3
	RtrSolicitationInterval    = 10 * time.Second
	MaxRtrSolicitationDelay    = 1 * time.Second
	MaxUnicastSolicit          = 3
	DS6Period                  = 1 * time.Second
	RegistrationRefreshMargin  = 30 * time.Second
	DefaultRegistrationMinutes = 60
)

// Default table capacities. These are small, fixed, and sized for a
// constrained device per spec.md §2/§5 ("fixed-capacity array").
const (
	DefaultMaxAddresses    = 8
	DefaultMaxMulticast    = 8
	DefaultMaxPrefixes     = 4
	DefaultMaxDefaultRtrs  = 2
	DefaultMaxNeighbors    = 16
	DefaultMaxRegistrations = 32
)

// Config carries the enumerated effects from spec.md §6.2.
type Config struct {
	Role Role

	SendRA bool
	SendNA bool
	SendNS bool

	RA6CO   bool
	RAABRO  bool
	RARDNSS bool

	NSAuth  bool
	NSNonce bool

	MaxDADNS             int
	RegistrationLifetime time.Duration // default NS-ARO lifetime

	LinkLocal net.IP
	EUI64     [8]byte
	LLAddr    net.HardwareAddr

	// PSK is this host's pre-shared key with its router (host role only).
	PSK [32]byte
}

func (c Config) withDefaults() Config {
	if c.RegistrationLifetime == 0 {
		c.RegistrationLifetime = DefaultRegistrationMinutes * time.Minute
	}
	if c.MaxDADNS < 0 {
		c.MaxDADNS = 0
	}
	return c
}

// registrationInProgress is the host's single in-flight registration slot
// (spec.md §3 "Host-side registration-in-progress slot").
type registrationInProgress struct {
	Address  net.IP
	Router   net.IP
	Lifetime uint16
	Nonce    Nonce
	Retx     int
	Deadline time.Time
}

// Interface is the per-link node state: the C2 tables, the C4 role
// behaviour, and the C6 collaborators it was wired with.
type Interface struct {
	cfg    Config
	net    Network
	clock  Clock
	rng    RNG
	hash   Hasher
	logger *slog.Logger

	Addresses      *AddressTable
	Multicast      *MulticastTable
	Prefixes       *PrefixTable
	Contexts       *ContextTable
	DefaultRouters *DefaultRouterTable
	Neighbors      *NeighborTable
	Registrations  *RegistrationTable // router only; nil on hosts

	// PSKs maps a host's EUI-64 to its pre-shared key (router only).
	PSKs map[[8]byte][32]byte

	// Router-advertised policy, used both to build RAs and as the
	// canonical LBR-info block for the Authentication option (§4.3 item 4,
	// Open Question 2: "currently advertised", not "last seen"). On a host
	// these hold the values taken from the router's RA.
	AdvertisedPIO   PrefixInfo
	AdvertisedSixCO SixCO
	AdvertisedABRO  ABRO
	havePIO, have6CO, haveABRO bool

	CurHopLimit            uint8
	ReachableTimeBase      time.Duration
	ReachableTimeEffective time.Duration
	RetransTimer           time.Duration
	MTU                    uint32

	// Host-side RS schedule state.
	rsCount    int
	rsDeadline time.Time
	inProgress *registrationInProgress

	// Outgoing nonce counter, monotonic per interface (spec.md §4.3).
	nonceCounter Nonce

	// onRDNSS is an optional observability hook (dashboard/stats); RDNSS has
	// no dedicated C2 table in this profile (spec.md §3 names no RDNSS
	// table), so recording it is purely for display.
	onRDNSS func(RDNSSOption)

	stats *Stats
}

// Deps bundles the C6 collaborators an Interface is constructed with.
type Deps struct {
	Net    Network
	Clock  Clock
	RNG    RNG
	Hasher Hasher
	Logger *slog.Logger
	Stats  *Stats // optional; feeds the dashboard
}

func NewInterface(cfg Config, deps Deps) *Interface {
	cfg = cfg.withDefaults()
	if deps.Hasher == nil {
		deps.Hasher = Blake2sHasher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ifc := &Interface{
		cfg:            cfg,
		net:            deps.Net,
		clock:          deps.Clock,
		rng:            deps.RNG,
		hash:           deps.Hasher,
		logger:         deps.Logger.With("role", roleName(cfg.Role)),
		Addresses:      NewAddressTable(DefaultMaxAddresses),
		Multicast:      NewMulticastTable(DefaultMaxMulticast),
		Prefixes:       NewPrefixTable(DefaultMaxPrefixes),
		Contexts:       NewContextTable(),
		DefaultRouters: NewDefaultRouterTable(DefaultMaxDefaultRtrs),
		Neighbors:      NewNeighborTable(DefaultMaxNeighbors),
		CurHopLimit:    255,
		RetransTimer:   time.Second,
		stats:          deps.Stats,
	}
	if cfg.Role == RoleRouter {
		ifc.Registrations = NewRegistrationTable(DefaultMaxRegistrations)
		ifc.PSKs = make(map[[8]byte][32]byte)
	}
	return ifc
}

func roleName(r Role) string {
	if r == RoleRouter {
		return "router"
	}
	return "host"
}

// Init allocates nothing beyond the constructor (tables are pre-sized),
// installs the link-local address, which enters preferred immediately
// without DAD in this profile (spec.md §3 invariant a), and for hosts
// begins the RS schedule (spec.md §4.4.1).
func (ifc *Interface) Init() error {
	now := ifc.now()
	if ifc.cfg.LinkLocal != nil {
		_, err := ifc.Addresses.Insert(ifc.cfg.LinkLocal, AddrManual, StatePreferred, true, time.Time{})
		if err != nil {
			return err
		}
		if err := ifc.Multicast.Join(SolicitedNodeMulticast(ifc.cfg.LinkLocal)); err != nil {
			return err
		}
	}
	if ifc.cfg.Role == RoleHost {
		ifc.scheduleRS(now)
	}
	return nil
}

func (ifc *Interface) now() time.Time {
	if ifc.clock != nil {
		return ifc.clock.Now()
	}
	return time.Now()
}

func (ifc *Interface) randFloat() float64 {
	if ifc.rng != nil {
		return ifc.rng.Float64()
	}
	return 0
}

// nextNonce increments and returns this interface's outgoing Nonce
// (spec.md §4.3: "sender ... MUST increment the counter strictly").
func (ifc *Interface) nextNonce() Nonce {
	ifc.nonceCounter = ifc.nonceCounter.Inc()
	return ifc.nonceCounter
}

// HandleICMP dispatches a decoded frame by ICMP type and role (spec.md
// §4.4, §6.1 handle_icmp). Any failure is discarded silently per §7.
func (ifc *Interface) HandleICMP(f Frame) {
	if f.HopLimit != 255 {
		ifc.logger.Debug("discard: bad hop limit", "hoplimit", f.HopLimit)
		return
	}
	msg, err := DecodeMessage(f.Payload)
	if err != nil {
		ifc.logger.Debug("discard: malformed", "err", err)
		return
	}
	if msg.Code != 0 {
		ifc.logger.Debug("discard: bad icmp code", "code", msg.Code)
		return
	}

	if ifc.stats != nil {
		ifc.stats.RecordMessage(f.Src.String(), msg.Kind)
	}

	switch ifc.cfg.Role {
	case RoleHost:
		switch msg.Kind {
		case KindRA:
			ifc.handleRA(f.Src, msg)
		case KindNA:
			ifc.handleNAAsHost(f.Src, msg)
		default:
			ifc.logger.Debug("discard: unexpected message for host role", "kind", msg.Kind)
		}
	case RoleRouter:
		switch msg.Kind {
		case KindRS:
			ifc.handleRS(f.Src, msg)
		case KindNS:
			ifc.handleNS(f.Src, msg)
		default:
			ifc.logger.Debug("discard: unexpected message for router role", "kind", msg.Kind)
		}
	}
}

func (ifc *Interface) send(src, dst net.IP, kind Kind, code uint8, fields Message, opts [][]byte) error {
	fields.Kind = kind
	fields.Code = code
	payload, err := fields.Encode(src, dst, opts)
	if err != nil {
		return err
	}
	if ifc.net == nil {
		return nil
	}
	if err := ifc.net.Send(src, dst, payload); err != nil {
		return err
	}
	return nil
}

// allNodesMulticast is ff02::1.
func allNodesMulticast() net.IP { return net.ParseIP("ff02::1") }

// allRoutersMulticast is ff02::2.
func allRoutersMulticast() net.IP { return net.ParseIP("ff02::2") }

func linkLocalFromEUI64(eui [8]byte) net.IP {
	ip := make(net.IP, 16)
	ip[0] = 0xfe
	ip[1] = 0x80
	copy(ip[8:], eui[:])
	return ip
}

func autoconfFromPrefix(prefix net.IP, eui [8]byte) net.IP {
	ip := make(net.IP, 16)
	copy(ip[:8], to16(prefix)[:8])
	copy(ip[8:], eui[:])
	return ip
}
