package cidutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func legacyCID(t *testing.T, data []byte) (string, string) {
	t.Helper()
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash: %v", err)
	}
	v0 := cid.NewCidV0(sum)
	v1 := cid.NewCidV1(v0.Type(), sum)
	return v0.String(), v1.String()
}

func TestNormalizeConvertsLegacyToCanonical(t *testing.T) {
	v0, wantV1 := legacyCID(t, []byte("trestle test content"))
	got, ok := Normalize(v0)
	if !ok {
		t.Fatalf("expected %q to parse", v0)
	}
	if got != wantV1 {
		t.Fatalf("Normalize(%q) = %q, want %q", v0, got, wantV1)
	}
	if !strings.HasPrefix(got, "b") {
		t.Fatalf("canonical form should be base32 v1, got %q", got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	v0, _ := legacyCID(t, []byte("idempotence"))
	once, ok := Normalize(v0)
	if !ok {
		t.Fatalf("first normalize failed")
	}
	twice, ok := Normalize(once)
	if !ok {
		t.Fatalf("second normalize failed")
	}
	if once != twice {
		t.Fatalf("normalize not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizePassesThroughGarbage(t *testing.T) {
	got, ok := Normalize("not-a-cid")
	if ok {
		t.Fatalf("expected parse failure")
	}
	if got != "not-a-cid" {
		t.Fatalf("garbage input must be returned unchanged, got %q", got)
	}
}

func TestEqualAcrossVersions(t *testing.T) {
	v0, v1 := legacyCID(t, []byte("same bytes"))
	if !Equal(v0, v1) {
		t.Fatalf("v0 and v1 of the same digest must compare equal")
	}
	otherV0, _ := legacyCID(t, []byte("different bytes"))
	if Equal(v0, otherV0) {
		t.Fatalf("different digests must not compare equal")
	}
}

func TestFromBytesStableAndParseable(t *testing.T) {
	a := FromBytes([]byte("payload"))
	b := FromBytes([]byte("payload"))
	if a == "" || a != b {
		t.Fatalf("FromBytes not deterministic: %q vs %q", a, b)
	}
	normalized, ok := Normalize(a)
	if !ok || normalized != a {
		t.Fatalf("FromBytes output should already be canonical: %q -> %q", a, normalized)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.bin")
	if err := os.WriteFile(path, []byte("file payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fromFile, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if fromFile != FromBytes([]byte("file payload")) {
		t.Fatalf("file hash differs from byte hash")
	}
	if _, err := FromFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
