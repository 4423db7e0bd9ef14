package lib

import (
	"bytes"
	"net"

	"golang.org/x/crypto/blake2s"
)

// Blake2sHasher is the default Hasher (DESIGN.md): blake2s-256 has a native
// 32-byte digest, an exact match for the Authentication option's tag.
type Blake2sHasher struct{}

func (Blake2sHasher) Sum256(message []byte) [32]byte {
	return blake2s.Sum256(message)
}

// LBRInfo is the canonical PIO ‖ 6CO ‖ ABRO block (spec.md §4.3 item 4),
// built from the router's currently-advertised state (Open Question 2,
// resolved in DESIGN.md: "currently advertised", not "last seen").
type LBRInfo struct {
	PIO  []byte
	SixCO []byte
	ABRO []byte
}

func (b LBRInfo) bytes() []byte {
	out := make([]byte, 0, len(b.PIO)+len(b.SixCO)+len(b.ABRO))
	out = append(out, b.PIO...)
	out = append(out, b.SixCO...)
	out = append(out, b.ABRO...)
	return out
}

// AuthMaterial holds the inputs to M = src ‖ eui64 ‖ lifetime ‖ LBRInfo ‖
// nonce ‖ key (spec.md §4.3).
type AuthMaterial struct {
	Source   net.IP
	EUI64    [8]byte
	Lifetime uint16
	LBR      LBRInfo
	Nonce    Nonce
	Key      [32]byte
}

func (m AuthMaterial) canonicalBytes() []byte {
	var buf bytes.Buffer
	buf.Write(to16(m.Source))
	buf.Write(m.EUI64[:])
	buf.WriteByte(byte(m.Lifetime >> 8))
	buf.WriteByte(byte(m.Lifetime))
	buf.Write(m.LBR.bytes())
	buf.Write(m.Nonce.Counter[:])
	buf.Write(m.Key[:])
	return buf.Bytes()
}

// ComputeAuth returns the Authentication tag for the given material.
func ComputeAuth(h Hasher, m AuthMaterial) [32]byte {
	return h.Sum256(m.canonicalBytes())
}

// VerifyAuth recomputes the tag from the verifier's own view of m and
// compares byte-wise against tag. Mismatch is ErrAuthFailed (spec.md §4.3).
func VerifyAuth(h Hasher, m AuthMaterial, tag [32]byte) error {
	got := ComputeAuth(h, m)
	if !bytes.Equal(got[:], tag[:]) {
		return ErrAuthFailed
	}
	return nil
}

// CheckNonce applies the strictly-greater replay rule (spec.md §4.3, Open
// Question 1 resolved as "strictly greater", no replay window). On
// acceptance the caller must store incoming as the new last-seen value.
func CheckNonce(lastSeen, incoming Nonce, everSeen bool) error {
	if !everSeen {
		return nil
	}
	if !incoming.Greater(lastSeen) {
		return ErrReplayRejected
	}
	return nil
}
