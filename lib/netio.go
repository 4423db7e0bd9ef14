package lib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// SocketNetwork is the reference Network implementation: a real ICMPv6
// socket, adapted almost verbatim from the teacher's NDPListener.Run
// (ndp_listener.go) — the receive loop, control-message plumbing, and
// interface restriction are unchanged in shape; only the payload handling
// changed, from logging/stats to feeding ndsec's ND state machine.
type SocketNetwork struct {
	pc     *icmp.PacketConn
	p      *ipv6.PacketConn
	logger *slog.Logger
}

// NewSocketNetwork opens an ICMPv6 socket bound to listenAddr (typically
// "::"). Requires elevated privileges (root/CAP_NET_RAW), same as the
// teacher's Run.
func NewSocketNetwork(listenAddr string, logger *slog.Logger) (*SocketNetwork, error) {
	if listenAddr == "" {
		listenAddr = "::"
	}
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := icmp.ListenPacket("ip6:ipv6-icmp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen icmpv6: %w", err)
	}
	p := pc.IPv6PacketConn()
	if p == nil {
		pc.Close()
		return nil, fmt.Errorf("pc.IPv6PacketConn() returned nil")
	}
	if err := p.SetControlMessage(ipv6.FlagHopLimit|ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
		logger.Warn("failed to enable ipv6 control messages; continuing", "err", err)
	}
	_ = p.SetHopLimit(255)
	_ = p.SetMulticastHopLimit(255)
	return &SocketNetwork{pc: pc, p: p, logger: logger}, nil
}

func (n *SocketNetwork) Close() error { return n.pc.Close() }

// Send transmits payload (a fully-encoded ICMPv6 message, checksum already
// computed against src/dst) to dst.
func (n *SocketNetwork) Send(src, dst net.IP, payload []byte) error {
	_, err := n.p.WriteTo(payload, nil, &net.IPAddr{IP: dst})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Frame is one received ICMPv6 packet together with the control-message
// metadata the hop-limit gate (spec.md §8 property 2) needs.
type Frame struct {
	Src      net.IP
	HopLimit int
	IfIndex  int
	Payload  []byte
}

// Listen runs the receive loop, delivering frames to onFrame until ctx is
// canceled. Mirrors the teacher's deadline-based cancellation-friendly loop.
func (n *SocketNetwork) Listen(ctx context.Context, ifIndex int, onFrame func(Frame)) error {
	buf := make([]byte, 64*1024)
	const readTimeout = 800 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = n.pc.SetReadDeadline(time.Now().Add(readTimeout))

		nr, cm, src, err := n.p.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		if ifIndex != 0 {
			if cm == nil || cm.IfIndex != ifIndex {
				continue
			}
		}

		f := Frame{Src: ipFromAddr(src), Payload: append([]byte(nil), buf[:nr]...)}
		if cm != nil {
			f.HopLimit = cm.HopLimit
			f.IfIndex = cm.IfIndex
		}
		onFrame(f)
	}
}

func ipFromAddr(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	default:
		return nil
	}
}
