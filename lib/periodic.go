package lib

import (
	"net"
	"time"
)

// DelayFirstProbeTime is the RFC 4861 §10 delay before a stale neighbor
// moves to probing once an outbound packet needs it resolved.
const DelayFirstProbeTime = 5 * time.Second

// ContextUncompressFraction is the fraction of a context's remaining valid
// lifetime, counting down from its original grant, at which it demotes from
// in-use-compress to in-use-uncompress-only (original_source supplement D.6
// — the distilled spec names the third state but not its trigger).
const ContextUncompressFraction = 0.25

// Periodic runs one DS6_PERIOD tick (spec.md §4.5, §6.1 periodic()).
func (ifc *Interface) Periodic() {
	now := ifc.now()
	ifc.expireAddresses(now)
	ifc.expirePrefixes(now)
	ifc.expireDefaultRouters(now)
	ifc.advanceNeighbors(now)

	switch ifc.cfg.Role {
	case RoleHost:
		ifc.periodicHost(now)
	case RoleRouter:
		ifc.periodicRouter(now)
	}
}

func (ifc *Interface) expireAddresses(now time.Time) {
	for _, a := range ifc.Addresses.All() {
		if a.Infinite || a.Type == AddrManual {
			continue
		}
		if !a.ValidUntil.IsZero() && !a.ValidUntil.After(now) {
			ifc.Multicast.Leave(SolicitedNodeMulticast(a.IP))
			if ifc.Registrations != nil {
				ifc.Registrations.RemoveByAddr(a.IP)
			}
			ifc.Addresses.Remove(a.IP)
		}
	}
}

func (ifc *Interface) expirePrefixes(now time.Time) {
	for _, p := range ifc.Prefixes.All() {
		if p.Infinite {
			continue
		}
		if !p.ValidLifetime.IsZero() && !p.ValidLifetime.After(now) {
			ifc.Prefixes.Remove(p.Prefix, p.PrefixLen)
		}
	}
}

// expireDefaultRouters implements §8 property 7: an expired (or
// router-lifetime=0, handled in host.go's handleRA) default-router entry
// cascades to every registration bound to it.
func (ifc *Interface) expireDefaultRouters(now time.Time) {
	for _, dr := range ifc.DefaultRouters.All() {
		if dr.Infinite {
			continue
		}
		if !dr.Deadline.After(now) {
			ifc.removeDefaultRouter(dr.Address)
			if ifc.cfg.Role == RoleHost {
				ifc.deprecateAllRegisteredAddresses(now)
				ifc.scheduleRS(now)
			}
		}
	}
}

func (ifc *Interface) deprecateAllRegisteredAddresses(now time.Time) {
	for _, a := range ifc.Addresses.All() {
		if a.Type == AddrAutoconf && a.State == StatePreferred {
			a.State = StateDeprecated
		}
	}
	ifc.inProgress = nil
}

// advanceNeighbors drives the NUD state machine (spec.md §4.5 item 2).
func (ifc *Interface) advanceNeighbors(now time.Time) {
	for _, n := range ifc.Neighbors.All() {
		switch n.State {
		case NeighborReachable:
			if !n.Deadline.IsZero() && !n.Deadline.After(now) {
				n.State = NeighborStale
			}
		case NeighborDelay:
			if !n.Deadline.IsZero() && !n.Deadline.After(now) {
				n.State = NeighborProbe
				n.ProbeCount = 0
				ifc.probeNeighbor(n)
			}
		case NeighborProbe:
			if n.ProbeCount >= MaxUnicastSolicit {
				ifc.Neighbors.Remove(n.IP)
				continue
			}
			if !n.Deadline.IsZero() && !n.Deadline.After(now) {
				n.ProbeCount++
				ifc.probeNeighbor(n)
				n.Deadline = now.Add(ifc.RetransTimer)
			}
		}
	}
}

func (ifc *Interface) probeNeighbor(n *NeighborEntry) {
	if !ifc.cfg.SendNS {
		return
	}
	opts := [][]byte{LinkLayerAddress{Source: true, Addr: ifc.cfg.LLAddr}.Marshal()}
	msg := Message{Target: n.IP}
	ifc.send(ifc.cfg.LinkLocal, n.IP, KindNS, 0, msg, opts)
}

// QueueForResolution marks a stale neighbor as needing resolution, the
// "want to send" upper-layer entry point from spec.md §5 item (c): a stale
// neighbor moves to delay, arming the probe after DelayFirstProbeTime.
func (ifc *Interface) QueueForResolution(ip net.IP, now time.Time) {
	n, ok := ifc.Neighbors.Lookup(ip)
	if !ok || n.State != NeighborStale {
		return
	}
	n.State = NeighborDelay
	n.Deadline = now.Add(DelayFirstProbeTime)
}

// periodicHost drives the RS backoff schedule and registration refresh
// (spec.md §4.5 items 3-4).
func (ifc *Interface) periodicHost(now time.Time) {
	if _, ok := ifc.DefaultRouters.Best(now); !ok && ifc.cfg.SendNS {
		if ifc.rsCount < MaxRtrSolicitations && !ifc.rsDeadline.After(now) {
			ifc.RSOutput(nil)
			ifc.rsCount++
			ifc.rsDeadline = now.Add(RtrSolicitationInterval)
		}
	}

	if ifc.inProgress == nil {
		return
	}
	ip := ifc.inProgress
	if ip.Deadline.After(now) {
		return
	}
	if ip.Retx >= MaxUnicastSolicit {
		addr := ip.Address
		if a, ok := ifc.Addresses.Lookup(addr); ok {
			a.State = StateDeprecated
		}
		ifc.inProgress = nil
		if dr, ok := ifc.DefaultRouters.Best(now); ok {
			// spec.md §4.5 item 4: once a router is available, re-register
			// under it rather than waiting idle for the next RS cycle.
			ifc.registerAddress(addr, dr.Address, uint16(ifc.cfg.RegistrationLifetime/time.Minute), now)
		} else {
			ifc.scheduleRS(now)
		}
		return
	}
	ip.Retx++
	nonce := ifc.nextNonce()
	ip.Nonce = nonce
	ip.Deadline = now.Add(ifc.RetransTimer)
	ifc.sendRegistrationNS(ip.Address, ip.Router, ip.Lifetime, nonce)
}

// periodicRouter demotes contexts approaching expiry and expires
// registrations whose lifetime has elapsed (spec.md §4.5 item 1,
// original_source supplement D.6).
func (ifc *Interface) periodicRouter(now time.Time) {
	for _, c := range ifc.Contexts.All() {
		if c.ValidUntil.IsZero() {
			continue
		}
		if !c.ValidUntil.After(now) {
			ifc.Contexts.Remove(c.ContextID)
			continue
		}
		if c.State == ContextInUseCompress && !c.GrantedAt.IsZero() {
			total := c.ValidUntil.Sub(c.GrantedAt)
			remaining := c.ValidUntil.Sub(now)
			if total > 0 && remaining < time.Duration(float64(total)*ContextUncompressFraction) {
				c.State = ContextInUseUncompressOnly
			}
		}
	}
	if ifc.Registrations == nil {
		return
	}
	for _, r := range ifc.Registrations.All() {
		if r.State == RegToBeUnregistered {
			ifc.Registrations.Remove(r)
			continue
		}
		if !r.Lifetime.After(now) {
			ifc.Registrations.Remove(r)
		}
	}
}
