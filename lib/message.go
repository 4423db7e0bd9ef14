package lib

import (
	"encoding/binary"
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// Kind identifies which of the four ND messages a packet carries.
type Kind uint8

const (
	KindRS Kind = iota
	KindRA
	KindNS
	KindNA
)

// fixedPartLen mirrors the teacher's ndpOptionsOffset table (ndp_listener.go),
// i.e. where the option TLV chain begins for each message type.
func fixedPartLen(k Kind) int {
	switch k {
	case KindRS:
		return 8
	case KindRA:
		return 16
	case KindNS, KindNA:
		return 24
	default:
		return -1
	}
}

func kindFromICMPType(t uint8) (Kind, bool) {
	switch t {
	case 133:
		return KindRS, true
	case 134:
		return KindRA, true
	case 135:
		return KindNS, true
	case 136:
		return KindNA, true
	default:
		return 0, false
	}
}

func icmpTypeFromKind(k Kind) uint8 {
	switch k {
	case KindRS:
		return 133
	case KindRA:
		return 134
	case KindNS:
		return 135
	case KindNA:
		return 136
	default:
		return 0
	}
}

// Message is the decoded form of one ND packet: its kind, fixed fields, and
// its options as an explicit parsed value (spec.md §9 — no raw overlay
// pointers into the packet buffer).
type Message struct {
	Kind Kind
	Code uint8

	// RA fields
	CurHopLimit    uint8
	ManagedFlag    bool
	OtherFlag      bool
	RouterLifetime uint16 // seconds
	ReachableTime  uint32 // ms
	RetransTimer   uint32 // ms

	// NS/NA fields
	Target net.IP
	RFlag  bool // NA: router flag
	SFlag  bool // NA: solicited flag
	OFlag  bool // NA: override flag

	Options []rawOption
}

// DecodeMessage parses the ICMPv6 payload (type byte at buf[0]) of an RS,
// RA, NS, or NA message. It fails with ErrMalformed when the fixed part is
// shorter than the message type requires, and with ErrMalformedOption when
// an option is structurally invalid (zero length / truncated).
func DecodeMessage(buf []byte) (*Message, error) {
	if len(buf) < 4 {
		return nil, ErrMalformed
	}
	kind, ok := kindFromICMPType(buf[0])
	if !ok {
		return nil, ErrMalformed
	}
	flen := fixedPartLen(kind)
	if len(buf) < flen {
		return nil, ErrMalformed
	}

	m := &Message{Kind: kind, Code: buf[1]}

	switch kind {
	case KindRS:
		// bytes 4-7 reserved
	case KindRA:
		m.CurHopLimit = buf[4]
		m.ManagedFlag = buf[5]&0x80 != 0
		m.OtherFlag = buf[5]&0x40 != 0
		m.RouterLifetime = binary.BigEndian.Uint16(buf[6:8])
		m.ReachableTime = binary.BigEndian.Uint32(buf[8:12])
		m.RetransTimer = binary.BigEndian.Uint32(buf[12:16])
	case KindNS:
		m.Target = net.IP(append([]byte(nil), buf[8:24]...))
	case KindNA:
		m.RFlag = buf[4]&0x80 != 0
		m.SFlag = buf[4]&0x40 != 0
		m.OFlag = buf[4]&0x20 != 0
		m.Target = net.IP(append([]byte(nil), buf[8:24]...))
	}

	opts, err := decodeOptions(buf[flen:])
	if err != nil {
		return nil, err
	}
	m.Options = opts
	return m, nil
}

// findOption returns the first option of type t, if present.
func (m *Message) findOption(t OptionType) (rawOption, bool) {
	for _, o := range m.Options {
		if o.Type == t {
			return o, true
		}
	}
	return rawOption{}, false
}

// encodeBody assembles the ICMPv6 message body (fixed fields after the
// 4-byte type/code/checksum header + option blocks); Encode wraps it in an
// icmp.Message whose Marshal adds the header and computes the checksum
// against the IPv6 pseudo-header, exactly as golang.org/x/net/icmp expects.
func (m *Message) encodeBody(opts [][]byte) []byte {
	// icmp.Message.Marshal prepends its own 4-byte type/code/checksum
	// header, so the fixed-field buffer here only covers the bytes after
	// that header; fixedPartLen is measured from the start of the full
	// wire message, hence the -4.
	flen := fixedPartLen(m.Kind) - 4
	body := make([]byte, flen)

	switch m.Kind {
	case KindRA:
		body[0] = m.CurHopLimit
		var flags byte
		if m.ManagedFlag {
			flags |= 0x80
		}
		if m.OtherFlag {
			flags |= 0x40
		}
		body[1] = flags
		binary.BigEndian.PutUint16(body[2:4], m.RouterLifetime)
		binary.BigEndian.PutUint32(body[4:8], m.ReachableTime)
		binary.BigEndian.PutUint32(body[8:12], m.RetransTimer)
	case KindNS:
		copy(body[4:20], to16(m.Target))
	case KindNA:
		var flags byte
		if m.RFlag {
			flags |= 0x80
		}
		if m.SFlag {
			flags |= 0x40
		}
		if m.OFlag {
			flags |= 0x20
		}
		body[0] = flags
		copy(body[4:20], to16(m.Target))
	}

	body = append(body, encodeOptions(opts)...)
	return body
}

// rawBody wraps the raw body in golang.org/x/net/icmp's MessageBody
// so the standard checksum/pseudo-header machinery applies, following the
// teacher's own use of the icmp package for all message typing.
type rawBody struct {
	data []byte
}

func (b *rawBody) Len(_ int) int     { return len(b.data) }
func (b *rawBody) Marshal(_ int) ([]byte, error) { return b.data, nil }

// Encode builds the full ICMPv6 message (header + body) and computes the
// checksum over the pseudo-header (src, dst) + payload, matching spec.md
// §4.1 ("checksum field is computed last").
func (m *Message) Encode(src, dst net.IP, opts [][]byte) ([]byte, error) {
	body := m.encodeBody(opts)
	im := icmp.Message{
		Type: ipv6.ICMPType(icmpTypeFromKind(m.Kind)),
		Code: int(m.Code),
		Body: &rawBody{data: body},
	}
	return im.Marshal(icmp.IPv6PseudoHeader(src, dst))
}
