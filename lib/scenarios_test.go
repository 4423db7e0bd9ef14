package lib

import (
	"net"
	"testing"
	"time"
)

// captureRelay is a synchronous Network that delivers every Send straight
// into the addressed peer's HandleICMP (no real socket), records every
// payload it forwards, and can fan a single node's sends out to more than
// one peer (a shared broadcast link), so a scenario can inspect or replay
// an exact wire message and wire up more than two nodes.
type captureRelay struct {
	peers []*Interface
	sent  [][]byte
}

func (r *captureRelay) Send(src, dst net.IP, payload []byte) error {
	cp := append([]byte(nil), payload...)
	r.sent = append(r.sent, cp)
	// Unicast destinations are delivered only to the matching peer, the one
	// whose link-local or address table holds dst (mirroring a real link,
	// where a unicast ARO reply reaches only its addressee); multicast
	// destinations fan out to everyone on the link.
	for _, p := range r.peers {
		_, owns := p.Addresses.Lookup(dst)
		if dst.IsMulticast() || dst.Equal(p.cfg.LinkLocal) || owns {
			p.HandleICMP(Frame{Src: src, HopLimit: 255, Payload: append([]byte(nil), payload...)})
		}
	}
	return nil
}

func (r *captureRelay) last() []byte { return r.sent[len(r.sent)-1] }

// scenarioPair wires a host and a router to each other with capture relays
// on both sides, and gives the router a /64 autonomous prefix to advertise.
func scenarioPair(t *testing.T, eui [8]byte, key [32]byte, clock Clock, rng RNG) (host, router *Interface, hostRelay, routerRelay *captureRelay) {
	t.Helper()
	host = &Interface{}
	router = &Interface{}
	hostRelay = &captureRelay{peers: []*Interface{router}}
	routerRelay = &captureRelay{peers: []*Interface{host}}

	routerCfg := Config{
		Role: RoleRouter, SendRA: true, SendNA: true,
		LinkLocal: net.ParseIP("fe80::ff:fe00:aa"),
		LLAddr:    net.HardwareAddr{0, 0xff, 0xfe, 0, 0, 0xaa},
		NSAuth:    true, NSNonce: true,
	}
	hostCfg := Config{
		Role: RoleHost, EUI64: eui, PSK: key,
		LinkLocal: linkLocalFromEUI64(eui),
		LLAddr:    net.HardwareAddr{eui[2], eui[3], eui[4], eui[5], eui[6], eui[7]},
		NSAuth:    true, NSNonce: true,
		RegistrationLifetime: 60 * time.Minute,
	}

	*router = *NewInterface(routerCfg, Deps{Net: routerRelay, Clock: clock, RNG: rng})
	*host = *NewInterface(hostCfg, Deps{Net: hostRelay, Clock: clock, RNG: rng})

	router.PSKs[eui] = key
	router.Prefixes.Insert(PrefixEntry{
		Prefix: net.ParseIP("2001:db8::"), PrefixLen: 64,
		Advertise: true, OnLink: true, Autonomous: true, Infinite: true,
	})
	return host, router, hostRelay, routerRelay
}

// TestScenario_S1_FirstBoot: a freshly-booted host solicits, autoconfigures
// from the router's PIO, registers with a signed NS-with-ARO, and the
// address becomes preferred with a refresh scheduled before it expires.
func TestScenario_S1_FirstBoot(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	rng := NewFakeRNG(0.5)
	eui := [8]byte{2, 0, 0, 0, 0, 0, 0, 1}
	key := [32]byte{7}
	host, router, _, _ := scenarioPair(t, eui, key, clock, rng)

	if err := host.Init(); err != nil {
		t.Fatalf("host.Init: %v", err)
	}
	if err := router.Init(); err != nil {
		t.Fatalf("router.Init: %v", err)
	}

	if err := host.RSOutput(nil); err != nil {
		t.Fatalf("RSOutput: %v", err)
	}

	want := net.ParseIP("2001:db8::200:0:0:1")
	a, ok := host.Addresses.Lookup(want)
	if !ok {
		t.Fatalf("host did not autoconfigure %v", want)
	}
	if a.State != StatePreferred {
		t.Fatalf("address state = %v, want preferred after SUCCESS", a.State)
	}
	if host.inProgress == nil {
		t.Fatal("host should keep the registration armed for refresh")
	}
	if !host.inProgress.Deadline.Before(a.ValidUntil) {
		t.Fatalf("refresh deadline %v should be before expiry %v", host.inProgress.Deadline, a.ValidUntil)
	}

	reg, ok := router.Registrations.LookupByAddr(want)
	if !ok || reg.State != RegRegistered || reg.EUI64 != eui {
		t.Fatalf("router registration = %+v, ok=%v", reg, ok)
	}
}

// TestScenario_S2_Duplicate: a second host tries to claim the address the
// first host already owns; the router's DAD-by-table rejects it and the
// loser's address moves to deprecated.
func TestScenario_S2_Duplicate(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	rng := NewFakeRNG(0.5)
	eui1 := [8]byte{2, 0, 0, 0, 0, 0, 0, 1}
	key1 := [32]byte{7}
	host1, router, _, routerRelay := scenarioPair(t, eui1, key1, clock, rng)
	if err := host1.Init(); err != nil {
		t.Fatalf("host1.Init: %v", err)
	}
	if err := host1.RSOutput(nil); err != nil {
		t.Fatalf("RSOutput: %v", err)
	}
	target := net.ParseIP("2001:db8::200:0:0:1")
	if _, ok := router.Registrations.LookupByAddr(target); !ok {
		t.Fatal("setup: host1 should own the registration")
	}

	eui2 := [8]byte{2, 0, 0, 0, 0, 0, 0, 2}
	key2 := [32]byte{8}
	host2Relay := &captureRelay{peers: []*Interface{router}}
	host2 := NewInterface(Config{
		Role: RoleHost, EUI64: eui2, PSK: key2,
		LinkLocal: linkLocalFromEUI64(eui2),
		LLAddr:    net.HardwareAddr{eui2[2], eui2[3], eui2[4], eui2[5], eui2[6], eui2[7]},
		NSAuth:    true, NSNonce: true,
		RegistrationLifetime: 60 * time.Minute,
	}, Deps{Net: host2Relay, Clock: clock, RNG: rng})
	router.PSKs[eui2] = key2
	// The router must now be able to reach both hosts; its relay delivers
	// each unicast reply only to the host that owns the destination address.
	routerRelay.peers = append(routerRelay.peers, host2)
	if err := host2.Init(); err != nil {
		t.Fatalf("host2.Init: %v", err)
	}
	// A normal RS/RA round trip first, so host2 learns the router's
	// currently-advertised PIO/6CO/ABRO block the Authentication option is
	// bound to; it autoconfigures its own (non-conflicting) address here.
	if err := host2.RSOutput(nil); err != nil {
		t.Fatalf("RSOutput: %v", err)
	}
	own := net.ParseIP("2001:db8::200:0:0:2")
	if _, ok := router.Registrations.LookupByAddr(own); !ok {
		t.Fatal("setup: host2 should have registered its own address uneventfully")
	}

	// host2 independently believes host1's address is free (a colliding
	// autoconf outcome) and attempts to register it too.
	if _, err := host2.Addresses.Insert(target, AddrAutoconf, StateTentative, false, time.Time{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	host2.registerAddress(target, router.cfg.LinkLocal, 300, clock.Now())

	if _, stillOwned := router.Registrations.LookupByAddr(target); !stillOwned {
		t.Fatal("registration should remain")
	}
	reg, _ := router.Registrations.LookupByAddr(target)
	if reg.EUI64 != eui1 {
		t.Fatalf("registration owner = %x, want host1's eui64", reg.EUI64)
	}
	if host2.inProgress != nil {
		t.Fatal("host2's in-progress registration should be cleared on DUPLICATE_ADDRESS")
	}
	a, ok := host2.Addresses.Lookup(target)
	if !ok {
		t.Fatal("host2's address entry for the contested address should still exist")
	}
	if a.State != StateDeprecated {
		t.Fatalf("host2's losing address state = %v, want deprecated (spec.md §3 invariant c / Property 5 / scenario S2)", a.State)
	}
}

// TestScenario_S3_Replay: an attacker resends the exact NS-with-ARO that S1
// already used to register; the router must discard it for a stale nonce.
func TestScenario_S3_Replay(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	rng := NewFakeRNG(0.5)
	eui := [8]byte{2, 0, 0, 0, 0, 0, 0, 1}
	key := [32]byte{7}
	host, router, hostRelay, routerRelay := scenarioPair(t, eui, key, clock, rng)

	if err := host.Init(); err != nil {
		t.Fatalf("host.Init: %v", err)
	}
	if err := host.RSOutput(nil); err != nil {
		t.Fatalf("RSOutput: %v", err)
	}

	var registrationNS []byte
	for _, p := range hostRelay.sent {
		if m, err := DecodeMessage(p); err == nil && m.Kind == KindNS {
			if _, hasARO := m.findOption(OptARO); hasARO {
				registrationNS = p
			}
		}
	}
	if registrationNS == nil {
		t.Fatal("setup: did not capture the registration NS")
	}

	repliesBefore := len(routerRelay.sent)
	router.HandleICMP(Frame{Src: host.cfg.LinkLocal, HopLimit: 255, Payload: registrationNS})
	if len(routerRelay.sent) != repliesBefore {
		t.Fatalf("replay produced a reply: sent %d frames, want %d", len(routerRelay.sent), repliesBefore)
	}

	target := net.ParseIP("2001:db8::200:0:0:1")
	reg, ok := router.Registrations.LookupByAddr(target)
	if !ok || reg.RetxCount != 0 {
		t.Fatalf("registration must be unchanged by the replay: %+v", reg)
	}
}

// TestScenario_S4_RouterGone: no RA arrives for router_lifetime seconds; the
// default-router entry and its registrations are torn down and the host
// resumes soliciting.
func TestScenario_S4_RouterGone(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	rng := NewFakeRNG(0.5)
	eui := [8]byte{2, 0, 0, 0, 0, 0, 0, 1}
	key := [32]byte{7}
	host, _, _, _ := scenarioPair(t, eui, key, clock, rng)

	if err := host.Init(); err != nil {
		t.Fatalf("host.Init: %v", err)
	}
	if err := host.RSOutput(nil); err != nil {
		t.Fatalf("RSOutput: %v", err)
	}
	if _, ok := host.DefaultRouters.Best(clock.Now()); !ok {
		t.Fatal("setup: host should have a default router")
	}

	clock.Advance(DefaultRegistrationMinutes*time.Minute + time.Second)
	host.Periodic()

	if _, ok := host.DefaultRouters.Best(clock.Now()); ok {
		t.Fatal("default router entry should be gone once its lifetime elapses")
	}
	want := net.ParseIP("2001:db8::200:0:0:1")
	a, ok := host.Addresses.Lookup(want)
	if !ok || a.State != StateDeprecated {
		t.Fatalf("address = %+v, ok=%v, want deprecated", a, ok)
	}
	if host.rsCount != 0 || !host.rsDeadline.After(clock.Now().Add(-time.Millisecond)) {
		t.Fatal("host should have rearmed its RS schedule")
	}
}

// TestScenario_S5_Deregistration: the host sends an NS-with-ARO(lifetime=0);
// the router acknowledges with SUCCESS(lifetime=0) and both sides drop the
// registration.
func TestScenario_S5_Deregistration(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	rng := NewFakeRNG(0.5)
	eui := [8]byte{2, 0, 0, 0, 0, 0, 0, 1}
	key := [32]byte{7}
	host, router, _, _ := scenarioPair(t, eui, key, clock, rng)

	if err := host.Init(); err != nil {
		t.Fatalf("host.Init: %v", err)
	}
	if err := host.RSOutput(nil); err != nil {
		t.Fatalf("RSOutput: %v", err)
	}
	target := net.ParseIP("2001:db8::200:0:0:1")
	if _, ok := router.Registrations.LookupByAddr(target); !ok {
		t.Fatal("setup: registration should exist before deregistering")
	}

	host.registerAddress(target, router.cfg.LinkLocal, 0, clock.Now())

	if host.inProgress != nil {
		t.Fatal("host's in-progress slot should clear once SUCCESS(lifetime=0) is acknowledged")
	}
	if _, ok := router.Registrations.LookupByAddr(target); ok {
		t.Fatal("router should have removed the registration for a lifetime-0 SUCCESS")
	}
}
