package lib

import (
	"net"
	"testing"
	"time"
)

// TestHandleICMP_HopLimitGate covers property 2: any RS/RA/NS/NA with
// hop-limit != 255 is discarded and produces no output.
func TestHandleICMP_HopLimitGate(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	routerNet := &FakeNetwork{}
	router := newTestRouter(t, routerNet, clock)

	rs := Message{Kind: KindRS}
	payload, err := rs.Encode(net.IPv6unspecified, allRoutersMulticast(), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, hl := range []int{0, 1, 64, 254} {
		t.Run("", func(t *testing.T) {
			before := len(routerNet.Sent)
			router.HandleICMP(Frame{Src: net.IPv6unspecified, HopLimit: hl, Payload: payload})
			if len(routerNet.Sent) != before {
				t.Fatalf("hop-limit %d should be discarded, but router sent a reply", hl)
			}
		})
	}

	// hop-limit 255 is accepted and produces the expected RA.
	router.HandleICMP(Frame{Src: net.IPv6unspecified, HopLimit: 255, Payload: payload})
	if len(routerNet.Sent) == 0 {
		t.Fatal("hop-limit 255 RS should have produced an RA reply")
	}
}

func TestHandleICMP_BadCodeDiscarded(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	routerNet := &FakeNetwork{}
	router := newTestRouter(t, routerNet, clock)

	rs := Message{Kind: KindRS, Code: 1}
	payload, err := rs.Encode(net.IPv6unspecified, allRoutersMulticast(), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	router.HandleICMP(Frame{Src: net.IPv6unspecified, HopLimit: 255, Payload: payload})
	if len(routerNet.Sent) != 0 {
		t.Fatal("non-zero ICMP code should be discarded")
	}
}

func TestHandleICMP_RoleFiltersUnexpectedKinds(t *testing.T) {
	clock := NewFakeClock(time.Unix(1000, 0))
	hostNet := &FakeNetwork{}
	host := newTestHost([8]byte{2, 0, 0, 0, 0, 0, 0, 1}, [32]byte{1}, hostNet, clock)

	// A router-only message (RS) delivered to a host must be ignored.
	rs := Message{Kind: KindRS}
	payload, err := rs.Encode(net.IPv6unspecified, allRoutersMulticast(), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	host.HandleICMP(Frame{Src: net.IPv6unspecified, HopLimit: 255, Payload: payload})
	if len(hostNet.Sent) != 0 {
		t.Fatal("host should not react to an RS")
	}
}
