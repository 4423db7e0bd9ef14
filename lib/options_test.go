package lib

import (
	"bytes"
	"net"
	"testing"
)

func TestDecodeOptions_SkipsByDeclaredLength(t *testing.T) {
	sllao := LinkLayerAddress{Source: true, Addr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}.Marshal()
	mtu := MTUOption{MTU: 1500}.Marshal()
	buf := append(append([]byte{}, sllao...), mtu...)

	opts, err := decodeOptions(buf)
	if err != nil {
		t.Fatalf("decodeOptions: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("got %d options, want 2", len(opts))
	}
	if opts[0].Type != OptSLLAO || opts[1].Type != OptMTU {
		t.Fatalf("got types %v, %v", opts[0].Type, opts[1].Type)
	}
}

func TestDecodeOptions_ZeroLengthIsMalformed(t *testing.T) {
	buf := []byte{byte(OptSLLAO), 0, 0, 0, 0, 0, 0, 0}
	if _, err := decodeOptions(buf); err != ErrMalformedOption {
		t.Fatalf("err = %v, want ErrMalformedOption", err)
	}
}

func TestDecodeOptions_TruncatedIsMalformed(t *testing.T) {
	buf := []byte{byte(OptPIO), 4, 0, 0}
	if _, err := decodeOptions(buf); err != ErrMalformedOption {
		t.Fatalf("err = %v, want ErrMalformedOption", err)
	}
}

func TestLinkLayerAddress_RoundTrip(t *testing.T) {
	for _, source := range []bool{true, false} {
		o := LinkLayerAddress{Source: source, Addr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}
		raw := decodeRaw(t, o.Marshal())
		got := decodeLinkLayerAddress(raw)
		if got.Source != source || !bytes.Equal(got.Addr, o.Addr) {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, o)
		}
	}
}

func TestPrefixInfo_RoundTrip(t *testing.T) {
	o := PrefixInfo{
		PrefixLen: 64, OnLink: true, Autonomous: true,
		ValidLifetime: 86400, PreferredLife: 14400,
		Prefix: net.ParseIP("2001:db8::"),
	}
	got, err := decodePrefixInfo(decodeRaw(t, o.Marshal()))
	if err != nil {
		t.Fatalf("decodePrefixInfo: %v", err)
	}
	if got.PrefixLen != o.PrefixLen || got.OnLink != o.OnLink || got.Autonomous != o.Autonomous ||
		got.ValidLifetime != o.ValidLifetime || got.PreferredLife != o.PreferredLife || !got.Prefix.Equal(o.Prefix) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, o)
	}
}

func TestMTUOption_RoundTrip(t *testing.T) {
	o := MTUOption{MTU: 1280}
	got, err := decodeMTU(decodeRaw(t, o.Marshal()))
	if err != nil {
		t.Fatalf("decodeMTU: %v", err)
	}
	if got.MTU != o.MTU {
		t.Fatalf("MTU = %d, want %d", got.MTU, o.MTU)
	}
}

func TestNonce_RoundTrip(t *testing.T) {
	o := Nonce{Counter: [6]byte{0, 0, 0, 0, 1, 2}}
	got, err := decodeNonce(decodeRaw(t, o.Marshal()))
	if err != nil {
		t.Fatalf("decodeNonce: %v", err)
	}
	if got.Counter != o.Counter {
		t.Fatalf("Counter = %v, want %v", got.Counter, o.Counter)
	}
}

func TestNonce_Greater(t *testing.T) {
	a := Nonce{Counter: [6]byte{0, 0, 0, 0, 0, 1}}
	b := Nonce{Counter: [6]byte{0, 0, 0, 0, 0, 2}}
	if !b.Greater(a) {
		t.Fatal("b should compare greater than a")
	}
	if a.Greater(b) {
		t.Fatal("a should not compare greater than b")
	}
	if a.Greater(a) {
		t.Fatal("a should not compare greater than itself")
	}
}

func TestNonce_Inc(t *testing.T) {
	a := Nonce{Counter: [6]byte{0, 0, 0, 0, 0, 0xff}}
	b := a.Inc()
	if !b.Greater(a) {
		t.Fatal("Inc() must produce a strictly greater counter")
	}
	want := Nonce{Counter: [6]byte{0, 0, 0, 0, 1, 0x00}}
	if b != want {
		t.Fatalf("Inc() carry = %v, want %v", b, want)
	}
}

func TestRDNSS_RoundTrip(t *testing.T) {
	o := RDNSSOption{Lifetime: 3600, Servers: []net.IP{net.ParseIP("2001:db8::53"), net.ParseIP("2001:db8::153")}}
	got, err := decodeRDNSS(decodeRaw(t, o.Marshal()))
	if err != nil {
		t.Fatalf("decodeRDNSS: %v", err)
	}
	if got.Lifetime != o.Lifetime || len(got.Servers) != 2 {
		t.Fatalf("got %+v, want %+v", got, o)
	}
	for i := range o.Servers {
		if !got.Servers[i].Equal(o.Servers[i]) {
			t.Fatalf("server[%d] = %v, want %v", i, got.Servers[i], o.Servers[i])
		}
	}
}

func TestARO_RoundTrip(t *testing.T) {
	o := ARO{Status: AROStatusSuccess, Lifetime: 60, EUI64: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	raw := decodeRaw(t, o.Marshal())
	if raw.Len != 2 {
		t.Fatalf("ARO wire length = %d units, want 2", raw.Len)
	}
	got, err := decodeARO(raw)
	if err != nil {
		t.Fatalf("decodeARO: %v", err)
	}
	if got != o {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, o)
	}
}

// TestARO_LifetimeOffset pins the RFC 6775 byte layout directly: Lifetime is
// a 16-bit field at bytes 6-7 of the option, not bytes 4-5 (an earlier draft
// of this codec misplaced it there).
func TestARO_LifetimeOffset(t *testing.T) {
	o := ARO{Status: 0, Lifetime: 0x0102, EUI64: [8]byte{}}
	b := o.Marshal()
	if b[6] != 0x01 || b[7] != 0x02 {
		t.Fatalf("Lifetime bytes at [6:8] = %x %x, want 01 02", b[6], b[7])
	}
	if b[4] != 0 || b[5] != 0 {
		t.Fatalf("bytes [4:6] must be reserved/zero, got %x %x", b[4], b[5])
	}
}

func TestSixCO_RoundTrip(t *testing.T) {
	o := SixCO{ContextLen: 64, Compress: true, ContextID: 3, ValidLt: 180, Prefix: net.ParseIP("2001:db8:1::")}
	got, err := decodeSixCO(decodeRaw(t, o.Marshal()))
	if err != nil {
		t.Fatalf("decodeSixCO: %v", err)
	}
	if got.ContextLen != o.ContextLen || got.Compress != o.Compress || got.ContextID != o.ContextID || got.ValidLt != o.ValidLt {
		t.Fatalf("got %+v, want %+v", got, o)
	}
}

func TestABRO_RoundTrip(t *testing.T) {
	o := ABRO{VLow: 1, VHigh: 0, ValidLt: 1800, LBRAddr: net.ParseIP("fe80::1")}
	got, err := decodeABRO(decodeRaw(t, o.Marshal()))
	if err != nil {
		t.Fatalf("decodeABRO: %v", err)
	}
	if got.VLow != o.VLow || got.VHigh != o.VHigh || got.ValidLt != o.ValidLt || !got.LBRAddr.Equal(o.LBRAddr) {
		t.Fatalf("got %+v, want %+v", got, o)
	}
}

func TestAUTH_RoundTrip(t *testing.T) {
	var o AUTH
	for i := range o.Tag {
		o.Tag[i] = byte(i)
	}
	b := o.Marshal()
	if len(b) != 40 {
		t.Fatalf("AUTH wire length = %d bytes, want 40 (len=5 units)", len(b))
	}
	got, err := decodeAUTH(decodeRaw(t, b))
	if err != nil {
		t.Fatalf("decodeAUTH: %v", err)
	}
	if got.Tag != o.Tag {
		t.Fatalf("round-trip mismatch")
	}
}

// decodeRaw runs a single option's wire bytes back through decodeOptions,
// the shared entry point every real decode path uses.
func decodeRaw(t *testing.T, wire []byte) rawOption {
	t.Helper()
	opts, err := decodeOptions(wire)
	if err != nil {
		t.Fatalf("decodeOptions: %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("got %d options, want 1", len(opts))
	}
	return opts[0]
}
