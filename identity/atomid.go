package identity

import (
	"encoding/base32"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Origin is the canonical origin value for an atom set: the root commit's
// object id, as raw bytes (20 for SHA-1, 32 for SHA-256 — spec §4.1
// "tolerating either hash algorithm supported by the host VCS").
type Origin []byte

// Hex returns the lowercase hex encoding of the origin, used as the
// lockfile's set key (spec §4.4 "Set keys MUST be stable content-addressed
// identifiers of the set's origin").
func (o Origin) Hex() string { return hex.EncodeToString(o) }

// atomIDSize is the BLAKE3 digest size used for AtomId (spec §4.1: "a
// 256-bit cryptographic hash").
const atomIDSize = 32

// nixBase32 is the Nix/original-implementation base32 alphabet (no
// padding, digits before letters, omits 'e','o','u','t' to avoid
// accidental words) used only for the display-only String32 form; the
// canonical textual form is lowercase hex (spec §4.1).
var nixBase32 = base32.NewEncoding("0123456789abcdfghijklmnpqrsvwxyz").WithPadding(base32.NoPadding)

// AtomID is the 32-byte cryptographic identifier derived from (origin,
// label), per spec §4.1 invariant 1: reconstructible from the pair alone,
// and distinct across distinct origins for the same label.
type AtomID struct {
	origin Origin
	label  Label
	hash   [atomIDSize]byte
}

// Compute derives the AtomId for (origin, label).
//
// AtomId = BLAKE3(origin_bytes || 0x00 || label_utf8_bytes)
//
// The 0x00 separator prevents ambiguity between an origin ending in a
// byte sequence that is a prefix of the label and a shorter origin
// followed by the full label (spec §4.1).
func Compute(origin Origin, label Label) AtomID {
	h := blake3.New()
	_, _ = h.Write(origin)
	_, _ = h.Write([]byte{0x00})
	_, _ = h.Write([]byte(label))

	var sum [atomIDSize]byte
	copy(sum[:], h.Sum(nil))

	return AtomID{origin: origin, label: label, hash: sum}
}

// Label returns the atom label this id was derived from.
func (id AtomID) Label() Label { return id.label }

// Origin returns the atom set origin this id was derived from.
func (id AtomID) Origin() Origin { return id.origin }

// Bytes returns the raw 32-byte digest.
func (id AtomID) Bytes() [atomIDSize]byte { return id.hash }

// String returns the canonical lowercase-hex textual form (spec §4.1).
func (id AtomID) String() string { return hex.EncodeToString(id.hash[:]) }

// String32 returns a Nix-alphabet base32 rendering of the hash, matching
// original_source/crates/atom/src/lock/serde_base32.rs in alphabet choice
// only. It is a display convenience; hex via String remains the
// canonical, stored form. It is not bit-compatible with nixbase32's own
// encoding, which packs bits most-significant-byte-last rather than the
// standard RFC 4648 ordering encoding/base32 uses here — do not compare
// this output against a real Nix store path hash.
func (id AtomID) String32() string { return nixBase32.EncodeToString(id.hash[:]) }

// ParseAtomIDHex parses the canonical hex textual form back into its raw
// bytes. It cannot recover the (origin, label) pair — callers that need
// those must reconstruct the AtomID with Compute and compare hashes.
func ParseAtomIDHex(s string) ([atomIDSize]byte, error) {
	var out [atomIDSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != atomIDSize {
		return out, errShortHash
	}
	copy(out[:], b)
	return out, nil
}

var errShortHash = &hashLengthError{}

type hashLengthError struct{}

func (*hashLengthError) Error() string { return "atom id hash must be exactly 32 bytes" }
