// Package objectid models the fixed-width object identifiers used
// throughout a receive-pack session, parameterized by the session's
// negotiated hash algorithm.
package objectid

import (
	"encoding/hex"
	"fmt"
)

// Format identifies the hash algorithm in effect for a session. All
// identifiers within a session share one Format; mixing is a protocol
// error caught by Parse.
type Format int

const (
	// SHA1 is the legacy 20-byte object format.
	SHA1 Format = iota
	// SHA256 is the 32-byte object format.
	SHA256
)

// Len returns the number of significant bytes for the format.
func (f Format) Len() int {
	switch f {
	case SHA256:
		return 32
	default:
		return 20
	}
}

// HexLen returns the number of hex digits for the format.
func (f Format) HexLen() int {
	return f.Len() * 2
}

func (f Format) String() string {
	if f == SHA256 {
		return "sha256"
	}
	return "sha1"
}

// ParseFormat converts a git object-format string ("sha1"/"sha256")
// into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "sha1", "":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	default:
		return 0, fmt.Errorf("objectid: unknown object format %q", s)
	}
}

// ID is a fixed-width object identifier. Comparison is bytewise; the
// all-zero value denotes "no such object" at command boundaries.
type ID struct {
	format Format
	bytes  [32]byte
}

// Zero returns the all-zero id for the given format.
func Zero(f Format) ID {
	return ID{format: f}
}

// IsZero reports whether id is the all-zero "no such object" value.
func (id ID) IsZero() bool {
	for _, b := range id.bytes[:id.format.Len()] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Format returns id's hash algorithm.
func (id ID) Format() Format { return id.format }

// Bytes returns the significant bytes of id (20 or 32, per Format).
func (id ID) Bytes() []byte {
	return append([]byte(nil), id.bytes[:id.format.Len()]...)
}

// String renders id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id.bytes[:id.format.Len()])
}

// Equal reports whether id and other denote the same object. Ids of
// different formats are never equal, even if both are zero.
func (id ID) Equal(other ID) bool {
	return id.format == other.format && id.bytes == other.bytes
}

// Parse decodes a hex object id under the given format. The input
// must be exactly f.HexLen() hex characters.
func Parse(f Format, s string) (ID, error) {
	if len(s) != f.HexLen() {
		return ID{}, fmt.Errorf("objectid: wrong width for %s: got %d hex chars, want %d", f, len(s), f.HexLen())
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("objectid: invalid hex %q: %w", s, err)
	}
	var id ID
	id.format = f
	copy(id.bytes[:], raw)
	return id, nil
}

// MustParse is Parse but panics on error; for tests and constants.
func MustParse(f Format, s string) ID {
	id, err := Parse(f, s)
	if err != nil {
		panic(err)
	}
	return id
}

// DetectFormat guesses the format implied purely by hex length; used
// while parsing the very first command of a session, before a
// format has otherwise been pinned down.
func DetectFormat(s string) (Format, bool) {
	switch len(s) {
	case SHA1.HexLen():
		return SHA1, true
	case SHA256.HexLen():
		return SHA256, true
	default:
		return 0, false
	}
}
