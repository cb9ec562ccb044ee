// Package identity implements atom-set origin derivation, atom label
// validation, and AtomId computation (spec §4.1).
//
// The hashing construction follows spec.md §4.1 exactly: the origin bytes
// and the label are concatenated with a 0x00 separator and hashed with
// BLAKE3. This is a deliberate, documented deviation from the reference
// implementation's keyed-hash derivation (origin as a BLAKE3 key, see
// original_source/crates/atom/src/id/mod.rs) — both constructions satisfy
// invariants 1-2 (unique per origin, reconstructible from the same
// inputs), and the spec text gives the concatenation form as the
// canonical one. See DESIGN.md "Open Question: hash construction".
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxLabelBytes bounds a label's UTF-8 length, matching the reference
// implementation's ID_MAX (original_source/crates/atom/src/id/mod.rs).
const MaxLabelBytes = 128

var (
	// ErrInvalidLabel is returned for any label validation failure; see
	// Label's concrete error for the specific reason.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrMissingRoot is returned when a repository has no commits reachable
	// from the designated head.
	ErrMissingRoot = errors.New("repository has no root commit")
	// ErrHashUnavailable is returned if the configured hash primitive is
	// unavailable in the runtime (not expected to occur with blake3).
	ErrHashUnavailable = errors.New("required hash primitive unavailable")
)

// reservedRefChars are disallowed anywhere in a label because they collide
// with Git ref path syntax (spec §4.1: "/ : ? * [ \ ^ ~ @").
const reservedRefChars = `/:?*[\^~@`

// Label is a validated atom label: a non-empty Unicode string, unique per
// atom set at a point in history, safe to use as a Git ref path component.
type Label string

// ParseLabel validates s and returns it as a Label.
//
// Rules (spec §4.1):
//   - non-empty, at most MaxLabelBytes UTF-8 bytes
//   - no ASCII control or whitespace characters
//   - none of the reserved ref characters `/ : ? * [ \ ^ ~ @`
//   - does not begin or end with '.'
//   - does not contain ".."
func ParseLabel(s string) (Label, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLabel)
	}
	if len(s) > MaxLabelBytes {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidLabel, MaxLabelBytes)
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return "", fmt.Errorf("%w: cannot start or end with '.'", ErrInvalidLabel)
	}
	if strings.Contains(s, "..") {
		return "", fmt.Errorf("%w: cannot contain '..'", ErrInvalidLabel)
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", fmt.Errorf("%w: contains control or whitespace character %q", ErrInvalidLabel, r)
		}
		if strings.ContainsRune(reservedRefChars, r) {
			return "", fmt.Errorf("%w: contains reserved character %q", ErrInvalidLabel, r)
		}
	}
	return Label(s), nil
}

// String returns the label's underlying text.
func (l Label) String() string { return string(l) }
