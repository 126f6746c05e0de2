package cidutil

import (
	"fmt"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Normalize converts a legacy CIDv0 string to its CIDv1 form, preserving the
// underlying multihash and codec. CIDv1 input passes through unchanged. The
// boolean reports whether the input parsed as a CID at all; on failure the
// original string is returned so callers can keep going. Identifier
// comparison is an optimization, not a correctness gate.
func Normalize(value string) (string, bool) {
	parsed, err := cid.Decode(value)
	if err != nil {
		return value, false
	}
	if parsed.Version() == 0 {
		return cid.NewCidV1(parsed.Type(), parsed.Hash()).String(), true
	}
	return parsed.String(), true
}

// Equal reports whether two identifier strings refer to the same content
// after normalization. Unparseable strings fall back to exact comparison.
func Equal(a, b string) bool {
	na, _ := Normalize(a)
	nb, _ := Normalize(b)
	return na == nb
}

// FromBytes computes the local ground-truth identifier for a byte slice:
// CIDv1 with the raw multicodec over a sha2-256 multihash. This hash is
// backend-independent; backends that chunk content differently may report a
// different identifier for the same bytes, which callers treat as a warning,
// not an error.
func FromBytes(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum with SHA2_256 and default length cannot fail.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// FromFile computes the ground-truth identifier for a file's contents.
func FromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file for hashing: %w", err)
	}
	return FromBytes(data), nil
}
