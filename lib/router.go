package lib

import (
	"net"
	"time"
)

// handleRS is the router-side RS-intake path (spec.md §4.4.2). Only SLLAO
// is processed; periodic unsolicited RAs are disabled in this profile, so
// the only output is a unicast solicited RA.
func (ifc *Interface) handleRS(src net.IP, msg *Message) {
	var lladdr net.HardwareAddr
	if raw, ok := msg.findOption(OptSLLAO); ok {
		lladdr = decodeLinkLayerAddress(raw).Addr
	}
	if !src.IsUnspecified() {
		ifc.Neighbors.Upsert(src, lladdr, false)
	}
	if ifc.cfg.SendRA {
		ifc.RAOutput(src)
	}
}

// RAOutput builds and sends a Router Advertisement. dst == nil means the
// all-nodes multicast (unsolicited); this profile only uses unicast
// solicited RAs (spec.md §4.4.2), but RAOutput itself stays general per
// spec.md §6.1.
func (ifc *Interface) RAOutput(dst net.IP) error {
	if dst == nil {
		dst = allNodesMulticast()
	}
	src := ifc.cfg.LinkLocal

	msg := Message{
		CurHopLimit:    ifc.CurHopLimit,
		RouterLifetime: uint16(DefaultRegistrationMinutes * 60),
		ReachableTime:  uint32(ifc.ReachableTimeBase / time.Millisecond),
		RetransTimer:   uint32(ifc.RetransTimer / time.Millisecond),
	}

	var opts [][]byte
	opts = append(opts, LinkLayerAddress{Source: true, Addr: ifc.cfg.LLAddr}.Marshal())
	if ifc.MTU != 0 {
		opts = append(opts, MTUOption{MTU: ifc.MTU}.Marshal())
	}
	for _, p := range ifc.Prefixes.All() {
		if !p.Advertise {
			continue
		}
		pio := PrefixInfo{
			PrefixLen: p.PrefixLen, OnLink: p.OnLink, Autonomous: p.Autonomous,
			ValidLifetime: lifetimeSeconds(p.ValidLifetime, ifc.now(), p.Infinite),
			PreferredLife: lifetimeSeconds(p.PreferredLife, ifc.now(), p.Infinite),
			Prefix:        p.Prefix,
		}
		opts = append(opts, pio.Marshal())
		ifc.AdvertisedPIO = pio
		ifc.havePIO = true
	}
	if ifc.cfg.RA6CO {
		for _, c := range ifc.Contexts.All() {
			co := SixCO{
				ContextLen: c.PrefixLen, Compress: c.State == ContextInUseCompress,
				ContextID: c.ContextID, ValidLt: uint16(lifetimeSeconds(c.ValidUntil, ifc.now(), false) / 60),
				Prefix: c.Prefix,
			}
			opts = append(opts, co.Marshal())
			ifc.AdvertisedSixCO = co
			ifc.have6CO = true
		}
	}
	if ifc.cfg.RAABRO && ifc.haveABRO {
		opts = append(opts, ifc.AdvertisedABRO.Marshal())
	}
	if ifc.cfg.RARDNSS && ifc.onRDNSS == nil {
		// no-op placeholder: the interface holds no RDNSS server list, so
		// RAs built here never carry an RDNSS option.
	}

	return ifc.send(src, dst, KindRA, 0, msg, opts)
}

func lifetimeSeconds(deadline, now time.Time, infinite bool) uint32 {
	if infinite {
		return 0xffffffff
	}
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return uint32(d / time.Second)
}

// handleNS is the router-side NS-intake path (spec.md §4.4.2): a two-pass
// option scan (locate ARO, then validate Nonce/Auth and upsert the
// neighbor), followed by registration DAD arbitration.
func (ifc *Interface) handleNS(src net.IP, msg *Message) {
	aroRaw, hasARO := msg.findOption(OptARO)
	if !hasARO {
		ifc.handlePlainNS(src, msg)
		return
	}

	sllaoRaw, hasSLLAO := msg.findOption(OptSLLAO)
	if !hasSLLAO {
		ifc.logger.Debug("discard NS: ARO without SLLAO")
		return
	}
	if aroRaw.Len != 2 {
		ifc.logger.Debug("discard NS: malformed ARO length")
		return
	}
	aro, err := decodeARO(aroRaw)
	if err != nil || aro.Status != 0 {
		ifc.logger.Debug("discard NS: malformed ARO")
		return
	}

	key, known := ifc.PSKs[aro.EUI64]
	if !known {
		ifc.logger.Debug("discard NS: unauthorized EUI-64")
		return
	}

	var accepted *Nonce
	if ifc.cfg.NSNonce {
		nonceRaw, ok := msg.findOption(OptNonce)
		if !ok {
			ifc.logger.Debug("discard NS: missing nonce")
			return
		}
		nonce, err := decodeNonce(nonceRaw)
		if err != nil {
			return
		}
		existing, hasExisting := ifc.Registrations.LookupByEUI64(aro.EUI64)
		everSeen := hasExisting
		var last Nonce
		if hasExisting {
			last = existing.LastCounter
		}
		if err := CheckNonce(last, nonce, everSeen); err != nil {
			ifc.logger.Debug("discard NS: replay rejected")
			return
		}
		if ifc.cfg.NSAuth {
			authRaw, ok := msg.findOption(OptAUTH)
			if !ok {
				ifc.logger.Debug("discard NS: missing auth")
				return
			}
			auth, err := decodeAUTH(authRaw)
			if err != nil {
				return
			}
			mat := AuthMaterial{
				Source: src, EUI64: aro.EUI64, Lifetime: aro.Lifetime,
				LBR: LBRInfo{
					PIO:   optionalMarshal(ifc.havePIO, ifc.AdvertisedPIO),
					SixCO: optionalMarshal(ifc.have6CO, ifc.AdvertisedSixCO),
					ABRO:  optionalMarshal(ifc.haveABRO, ifc.AdvertisedABRO),
				},
				Nonce: nonce, Key: key,
			}
			if err := VerifyAuth(ifc.hash, mat, auth.Tag); err != nil {
				ifc.logger.Debug("discard NS: auth failed")
				return
			}
		}
		accepted = &nonce
	}

	lla := decodeLinkLayerAddress(sllaoRaw)
	ifc.Neighbors.Upsert(src, lla.Addr, false)

	ifc.arbitrateRegistration(src, msg.Target, aro, key)
	// Store the accepted counter, also when the registration was created
	// just now by arbitrateRegistration.
	if accepted != nil {
		if reg, ok := ifc.Registrations.LookupByEUI64(aro.EUI64); ok {
			reg.LastCounter = *accepted
		}
	}
}

type marshaler interface{ Marshal() []byte }

func optionalMarshal(have bool, v marshaler) []byte {
	if !have {
		return nil
	}
	return v.Marshal()
}

// arbitrateRegistration implements the DAD-by-registration-table logic
// (spec.md §4.4.2).
func (ifc *Interface) arbitrateRegistration(nsSrc, target net.IP, aro ARO, key [32]byte) {
	now := ifc.now()
	// In this single-tier deployment the router has no upstream default
	// router of its own, so registrations carry no DefRtRef; a multihop
	// 6LR chain would resolve one here via DefaultRouters.
	var defrtRef Ref

	existing, hasExisting := ifc.Registrations.LookupByAddr(target)
	switch {
	case !hasExisting || existing.EUI64 == aro.EUI64:
		state := RegRegistered
		lifetime := now.Add(time.Duration(aro.Lifetime) * time.Minute)
		if aro.Lifetime == 0 {
			state = RegToBeUnregistered
			lifetime = now
		}
		if hasExisting {
			existing.State, existing.Lifetime, existing.Key = state, lifetime, key
		} else {
			_, err := ifc.Registrations.Insert(aro.EUI64, target, defrtRef, state, lifetime, key)
			if err != nil {
				// Per RFC 6775 §6.5.1, NCE_FULL follows the same destination
				// rule as DUPLICATE_ADDRESS: the registering node's
				// EUI-64-derived link-local, never the NS source verbatim.
				ifc.replyARO(linkLocalFromEUI64(aro.EUI64), target, aro, AROStatusNceFull)
				return
			}
		}
		ifc.replyARO(nsSrc, target, aro, AROStatusSuccess)
		if state == RegToBeUnregistered {
			ifc.Registrations.RemoveByAddr(target)
		}
	default:
		// Owned by a different EUI-64: DUPLICATE_ADDRESS, and per RFC 6775
		// §6.7.5 the NA must NOT go to the NS source.
		ifc.replyARO(linkLocalFromEUI64(aro.EUI64), target, aro, AROStatusDuplicateAddress)
	}
}

// replyARO sends the NA-with-ARO reply to a registration attempt.
func (ifc *Interface) replyARO(dst, target net.IP, aro ARO, status uint8) {
	if ifc.stats != nil {
		ifc.stats.RecordARO(dst.String(), status)
	}
	if !ifc.cfg.SendNA {
		return
	}
	reply := ARO{Status: status, Lifetime: aro.Lifetime, EUI64: aro.EUI64}
	opts := [][]byte{
		LinkLayerAddress{Source: false, Addr: ifc.cfg.LLAddr}.Marshal(),
		reply.Marshal(),
	}
	msg := Message{Target: target, RFlag: true, SFlag: true, OFlag: true}
	ifc.send(ifc.cfg.LinkLocal, dst, KindNA, 0, msg, opts)
}

// handlePlainNS handles an NS without an ARO as ordinary RFC 4861
// DAD/NUD/address-resolution, outside the registration path (spec.md
// §4.4.2 final bullet). Link-local addresses skip DAD in this profile
// (spec.md §4.4.3); this router only answers NUD/address-resolution NSs
// targeting one of its own addresses.
func (ifc *Interface) handlePlainNS(src net.IP, msg *Message) {
	if _, ok := ifc.Addresses.Lookup(msg.Target); !ok {
		return
	}
	if !ifc.cfg.SendNA {
		return
	}
	if raw, ok := msg.findOption(OptSLLAO); ok {
		lla := decodeLinkLayerAddress(raw)
		ifc.Neighbors.Upsert(src, lla.Addr, false)
	}
	dst := src
	solicited := true
	if src.IsUnspecified() {
		dst = allNodesMulticast()
		solicited = false
	}
	opts := [][]byte{LinkLayerAddress{Source: false, Addr: ifc.cfg.LLAddr}.Marshal()}
	nmsg := Message{Target: msg.Target, RFlag: true, SFlag: solicited, OFlag: true}
	ifc.send(ifc.cfg.LinkLocal, dst, KindNA, 0, nmsg, opts)
}
