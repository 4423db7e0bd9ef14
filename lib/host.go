package lib

import (
	"net"
	"time"
)

// scheduleRS arms the bounded exponential RS schedule (spec.md §4.4.1):
// up to MaxRtrSolicitations attempts, RtrSolicitationInterval apart,
// randomized by ±MaxRtrSolicitationDelay on the very first one.
func (ifc *Interface) scheduleRS(now time.Time) {
	ifc.rsCount = 0
	jitter := time.Duration((ifc.randFloat()*2 - 1) * float64(MaxRtrSolicitationDelay))
	ifc.rsDeadline = now.Add(jitter)
	if ifc.rsDeadline.Before(now) {
		ifc.rsDeadline = now
	}
}

// RSOutput emits a Router Solicitation. It carries an SLLAO only when the
// interface has a usable source address; RFC 6775/4861 forbid SLLAO with
// an unspecified source (spec.md §4.4.1).
func (ifc *Interface) RSOutput(router net.IP) error {
	src := ifc.cfg.LinkLocal
	dst := router
	if dst == nil {
		dst = allRoutersMulticast()
	}
	var opts [][]byte
	if src != nil && !src.IsUnspecified() {
		opts = append(opts, LinkLayerAddress{Source: true, Addr: ifc.cfg.LLAddr}.Marshal())
	} else {
		src = net.IPv6unspecified
	}
	return ifc.send(src, dst, KindRS, 0, Message{}, opts)
}

// handleRA is the RA-intake path (spec.md §4.4.1).
func (ifc *Interface) handleRA(src net.IP, msg *Message) {
	if !src.IsLinkLocalUnicast() {
		ifc.logger.Debug("discard RA: non-link-local source")
		return
	}
	now := ifc.now()

	if msg.CurHopLimit != 0 {
		ifc.CurHopLimit = msg.CurHopLimit
	}
	if msg.ReachableTime != 0 {
		ifc.ReachableTimeBase = time.Duration(msg.ReachableTime) * time.Millisecond
		factor := 0.5 + ifc.randFloat()
		ifc.ReachableTimeEffective = time.Duration(float64(ifc.ReachableTimeBase) * factor)
	}
	if msg.RetransTimer != 0 {
		ifc.RetransTimer = time.Duration(msg.RetransTimer) * time.Millisecond
	}

	// Autoconfiguration runs after the option walk, so the NS-with-ARO it
	// sends is signed over every PIO/6CO/ABRO this RA carried.
	var autoconf []PrefixInfo
	for _, raw := range msg.Options {
		switch raw.Type {
		case OptSLLAO:
			lla := decodeLinkLayerAddress(raw)
			n, err := ifc.Neighbors.Upsert(src, lla.Addr, true)
			if err == nil {
				n.IsRouter = true
			}
		case OptMTU:
			if mtu, err := decodeMTU(raw); err == nil {
				ifc.MTU = mtu.MTU
			}
		case OptPIO:
			pio, err := decodePrefixInfo(raw)
			if err != nil {
				continue
			}
			ifc.AdvertisedPIO, ifc.havePIO = pio, true
			ifc.Prefixes.Insert(PrefixEntry{
				Prefix: pio.Prefix, PrefixLen: pio.PrefixLen,
				OnLink: pio.OnLink, Autonomous: pio.Autonomous,
				ValidLifetime: now.Add(time.Duration(pio.ValidLifetime) * time.Second),
				PreferredLife: now.Add(time.Duration(pio.PreferredLife) * time.Second),
			})
			if pio.Autonomous && pio.ValidLifetime >= pio.PreferredLife {
				autoconf = append(autoconf, pio)
			}
		case Opt6CO:
			co, err := decodeSixCO(raw)
			if err != nil {
				continue
			}
			ifc.AdvertisedSixCO, ifc.have6CO = co, true
			ifc.Contexts.Set(co.ContextID, co.Prefix, co.ContextLen, contextStateFor(co.Compress),
				now, now.Add(time.Duration(co.ValidLt)*60*time.Second), Ref{})
		case OptRDNSS:
			// RDNSS table not modeled as a fixed C2 table in this profile;
			// the option is only handed to the onRDNSS hook, when one is set.
			if ifc.onRDNSS != nil {
				if r, err := decodeRDNSS(raw); err == nil {
					ifc.onRDNSS(r)
				}
			}
		case OptABRO:
			// Hosts don't act on ABRO beyond recording it for the LBR-info block.
			if abro, err := decodeABRO(raw); err == nil {
				ifc.AdvertisedABRO, ifc.haveABRO = abro, true
			}
		}
	}
	for _, pio := range autoconf {
		ifc.autoconfigure(pio, src, now)
	}

	if msg.RouterLifetime == 0 {
		ifc.removeDefaultRouter(src)
	} else {
		ifc.DefaultRouters.Insert(src, now.Add(time.Duration(msg.RouterLifetime)*time.Second), false)
		ifc.rsCount = MaxRtrSolicitations // stop soliciting, we have a router
	}
}

func contextStateFor(compress bool) ContextState {
	if compress {
		return ContextInUseCompress
	}
	return ContextInUseUncompressOnly
}

// autoconfigure forms prefix‖IID(lladdr), adds it tentative if new, and
// immediately registers it at the RA's source (spec.md §4.4.1 PIO bullet).
func (ifc *Interface) autoconfigure(pio PrefixInfo, router net.IP, now time.Time) {
	addr := autoconfFromPrefix(pio.Prefix, ifc.cfg.EUI64)
	if _, ok := ifc.Addresses.Lookup(addr); ok {
		return
	}
	if _, err := ifc.Addresses.Insert(addr, AddrAutoconf, StateTentative, false, now.Add(time.Duration(pio.ValidLifetime)*time.Second)); err != nil {
		ifc.logger.Warn("autoconf: no space for new address", "err", err)
		return
	}
	ifc.Multicast.Join(SolicitedNodeMulticast(addr))
	ifc.registerAddress(addr, router, uint16(ifc.cfg.RegistrationLifetime/time.Minute), now)
}

// registerAddress builds and sends NS-with-ARO, arming the in-progress slot.
func (ifc *Interface) registerAddress(addr, router net.IP, lifetimeMinutes uint16, now time.Time) {
	nonce := ifc.nextNonce()
	ifc.inProgress = &registrationInProgress{
		Address: addr, Router: router, Lifetime: lifetimeMinutes, Nonce: nonce,
		Deadline: now.Add(ifc.RetransTimer),
	}
	ifc.sendRegistrationNS(addr, router, lifetimeMinutes, nonce)
}

func (ifc *Interface) sendRegistrationNS(addr, router net.IP, lifetimeMinutes uint16, nonce Nonce) {
	aro := ARO{Status: AROStatusSuccess, Lifetime: lifetimeMinutes, EUI64: ifc.cfg.EUI64}
	opts := [][]byte{
		LinkLayerAddress{Source: true, Addr: ifc.cfg.LLAddr}.Marshal(),
		aro.Marshal(),
	}
	if ifc.cfg.NSNonce {
		opts = append(opts, Nonce{Counter: nonce.Counter}.Marshal())
	}
	if ifc.cfg.NSAuth {
		mat := AuthMaterial{
			Source: addr, EUI64: ifc.cfg.EUI64, Lifetime: lifetimeMinutes,
			LBR:   ifc.lbrInfo(),
			Nonce: nonce, Key: ifc.cfg.PSK,
		}
		tag := ComputeAuth(ifc.hash, mat)
		opts = append(opts, AUTH{Tag: tag}.Marshal())
	}
	msg := Message{Target: addr}
	ifc.send(addr, router, KindNS, 0, msg, opts)
}

// lbrInfo builds the canonical LBR-info block from currently-advertised
// router state. On a host this is only meaningful once it has learned the
// router's PIO/6CO/ABRO from RAs; the router side (router.go) builds the
// authoritative version from its own advertised tables.
func (ifc *Interface) lbrInfo() LBRInfo {
	var b LBRInfo
	if ifc.havePIO {
		b.PIO = ifc.AdvertisedPIO.Marshal()
	}
	if ifc.have6CO {
		b.SixCO = ifc.AdvertisedSixCO.Marshal()
	}
	if ifc.haveABRO {
		b.ABRO = ifc.AdvertisedABRO.Marshal()
	}
	return b
}

// handleNAAsHost is the NA-intake path for a host's in-progress
// registration (spec.md §4.4.1).
func (ifc *Interface) handleNAAsHost(src net.IP, msg *Message) {
	n, ok := ifc.Neighbors.Lookup(src)
	if !ok || !n.IsRouter {
		ifc.logger.Debug("discard NA: not from a known router")
		return
	}
	if ifc.inProgress == nil {
		return
	}
	raw, ok := msg.findOption(OptARO)
	if !ok {
		return
	}
	aro, err := decodeARO(raw)
	if err != nil {
		return
	}
	if !msg.Target.Equal(ifc.inProgress.Address) {
		return
	}
	now := ifc.now()
	addr := ifc.inProgress.Address

	switch aro.Status {
	case AROStatusSuccess:
		if aro.Lifetime == 0 {
			// Deregistration acknowledged (scenario S5).
			ifc.inProgress = nil
			return
		}
		if a, ok := ifc.Addresses.Lookup(addr); ok {
			a.State = StatePreferred
		}
		refreshAt := now.Add(time.Duration(aro.Lifetime)*time.Minute - RegistrationRefreshMargin)
		ifc.inProgress.Deadline = refreshAt
		ifc.inProgress.Retx = 0
	case AROStatusDuplicateAddress:
		if a, ok := ifc.Addresses.Lookup(addr); ok {
			a.State = StateDeprecated
			a.ValidUntil = now
		}
		ifc.inProgress = nil
		ifc.cleanupAddr(addr, src)
	case AROStatusNceFull:
		// spec.md §3 invariant (c): an NCE_FULL reply demotes the address
		// back to tentative, not deprecated — it's the router's table that's
		// full, not a lost claim to the address.
		if a, ok := ifc.Addresses.Lookup(addr); ok {
			a.State = StateTentative
		}
		lifetime := ifc.inProgress.Lifetime
		ifc.inProgress = nil
		// periodic driver retries with another default router (periodic.go):
		// the slot is re-armed, due now, for the first other known router.
		for _, dr := range ifc.DefaultRouters.All() {
			if !dr.Address.Equal(src) {
				ifc.inProgress = &registrationInProgress{Address: addr, Router: dr.Address, Lifetime: lifetime, Deadline: now}
				break
			}
		}
	}
}

// cleanupAddr sends a lifetime-0 NS to every other known router where addr
// may have been registered, per spec.md §3/§4.4.1 (DUPLICATE_ADDRESS path)
// and original_source supplement D.3.
func (ifc *Interface) cleanupAddr(addr, except net.IP) {
	for _, dr := range ifc.DefaultRouters.All() {
		if dr.Address.Equal(except) {
			continue
		}
		nonce := ifc.nextNonce()
		ifc.sendRegistrationNS(addr, dr.Address, 0, nonce)
	}
}

// removeDefaultRouter tears down a default-router entry and cascades to
// every registration bound to it (cleanup_defrt, spec.md §3).
func (ifc *Interface) removeDefaultRouter(addr net.IP) {
	e, ok := ifc.DefaultRouters.Lookup(addr)
	if !ok {
		return
	}
	if ifc.Registrations != nil {
		ref := ifc.DefaultRouters.RefOf(e)
		ifc.Registrations.RemoveByDefRt(ref)
	}
	ifc.DefaultRouters.Remove(addr)
}
