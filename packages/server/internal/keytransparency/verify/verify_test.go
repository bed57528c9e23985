package verify

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// testFixture builds a config plus a single-identity search response whose
// VRF proof, prefix-tree proof, and tree-head signature all verify, so
// individual scenarios only need to perturb one field at a time.
type testFixture struct {
	cfg         primitives.PublicConfig
	searchKey   []byte
	identityKey []byte // 33-byte value, version-prefixed into result.Value
	result      wire.CondensedTreeSearchResult
	treeSize    uint64
	timestamp   time.Time
	signature   []byte
}

func hashLeafForTest(commitment, value []byte) []byte {
	h := sha256.New()
	h.Write(commitment)
	h.Write(value)
	return h.Sum(nil)
}

func hashInternalForTest(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func getBitForTest(data []byte, index int) int {
	byteIndex := index / 8
	bitIndex := 7 - (index % 8)
	return int((data[byteIndex] >> bitIndex) & 1)
}

func signedMessageForTest(treeSize uint64, root []byte, ts int64) []byte {
	data := make([]byte, 8+len(root)+8)
	putUint64BE(data[0:8], treeSize)
	copy(data[8:8+len(root)], root)
	putUint64BE(data[8+len(root):], uint64(ts))
	return data
}

func putUint64BE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	sigPub, sigPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	vrfPub, vrfPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	cfg := primitives.PublicConfig{
		Mode:               primitives.ModeDirect,
		SignatureAlgorithm: primitives.AlgorithmEd25519,
		SignatureEd25519:   sigPub,
		VRFPublicKey:       vrfPub,
	}

	searchKey := []byte("a0123456789abcdef")
	_, proof, err := primitives.Evaluate(vrfPriv, searchKey)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	output, err := primitives.DeriveVRFOutput(vrfPub, searchKey, proof)
	if err != nil {
		t.Fatalf("DeriveVRFOutput: %v", err)
	}

	identityKey := make([]byte, IdentityKeySize)
	identityKey[0] = 0x05
	value := append([]byte{0x00}, identityKey...)
	commitment := []byte("commitment-seed-bytes")

	sibling := []byte("00000000000000000000000000sibl")
	root := hashLeafForTest(commitment, value)
	if getBitForTest(output, 0) == 0 {
		root = hashInternalForTest(root, sibling)
	} else {
		root = hashInternalForTest(sibling, root)
	}

	result := wire.CondensedTreeSearchResult{
		Proof: wire.PrefixSearchProof{
			VRFProof: proof,
			Siblings: [][]byte{sibling},
			Depth:    1,
		},
		Value:      value,
		Commitment: commitment,
		Pos:        3,
		Root:       root,
	}

	ts := time.Unix(1_700_000_000, 0).UTC()
	sig := ed25519.Sign(sigPriv, signedMessageForTest(11, root, ts.Unix()))

	return &testFixture{
		cfg:         cfg,
		searchKey:   searchKey,
		identityKey: identityKey,
		result:      result,
		treeSize:    11,
		timestamp:   ts,
		signature:   sig,
	}
}

func TestSearchACIOnlySucceeds(t *testing.T) {
	f := newFixture(t)
	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: f.treeSize, Timestamp: f.timestamp, Signature: f.signature},
		},
		ACI: f.result,
	}

	outcome, err := VerifySearch(f.cfg, resp, IdentityQuery{SearchKey: f.searchKey}, nil, nil, SearchContext{}, f.timestamp)
	if err != nil {
		t.Fatalf("VerifySearch: %v", err)
	}
	if !bytes.Equal(outcome.ACI.Value, f.identityKey) {
		t.Errorf("extracted identity key mismatch: got %x want %x", outcome.ACI.Value, f.identityKey)
	}
	if outcome.ACI.Updated.Pos != f.result.Pos {
		t.Errorf("updated monitoring position mismatch")
	}
	if !outcome.ACI.Updated.Owned {
		t.Errorf("expected freshly verified monitoring data to be Owned")
	}
}

func TestSearchMismatchingRootsRejected(t *testing.T) {
	f := newFixture(t)
	other := append([]byte(nil), f.result.Root...)
	other[0] ^= 0xFF
	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: f.treeSize, Timestamp: f.timestamp, Signature: f.signature},
		},
		ACI:  f.result,
		E164: &wire.CondensedTreeSearchResult{Root: other},
	}

	e164q := &IdentityQuery{SearchKey: []byte("n+15555550123")}
	_, err := VerifySearch(f.cfg, resp, IdentityQuery{SearchKey: f.searchKey}, e164q, nil, SearchContext{}, f.timestamp)
	if err == nil {
		t.Fatal("expected mismatching roots to be rejected")
	}
	invalid, ok := err.(*kterrors.InvalidResponseError)
	if !ok {
		t.Fatalf("expected InvalidResponseError, got %T: %v", err, err)
	}
	if invalid.Reason != "mismatching tree roots" {
		t.Errorf("unexpected reason: %q", invalid.Reason)
	}
}

func TestSearchBrokenConsistencyAgainstPriorHeadRejected(t *testing.T) {
	f := newFixture(t)
	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: f.treeSize, Timestamp: f.timestamp, Signature: f.signature},
			// Last proof deliberately left empty despite a prior head being
			// supplied below.
		},
		ACI: f.result,
	}

	prior := &store.LastTreeHead{
		TreeHead: wire.TreeHead{TreeSize: 5},
		Root:     []byte("some-prior-root-00000000000000"),
	}

	_, err := VerifySearch(f.cfg, resp, IdentityQuery{SearchKey: f.searchKey}, nil, nil, SearchContext{LastTreeHead: prior}, f.timestamp)
	if err == nil {
		t.Fatal("expected missing consistency proof against a known prior head to fail")
	}
	if _, ok := err.(*kterrors.VerificationFailedError); !ok {
		t.Fatalf("expected VerificationFailedError, got %T: %v", err, err)
	}
}

func TestSearchTamperedValueRejected(t *testing.T) {
	f := newFixture(t)
	tampered := f.result
	tampered.Value = append([]byte{0x01}, f.identityKey...)

	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: f.treeSize, Timestamp: f.timestamp, Signature: f.signature},
		},
		ACI: tampered,
	}
	// Changing Value also changes the leaf hash, so inclusion fails before
	// the version-prefix check is reached; this still exercises the
	// overall guarantee that a tampered value can never verify.
	if _, err := VerifySearch(f.cfg, resp, IdentityQuery{SearchKey: f.searchKey}, nil, nil, SearchContext{}, f.timestamp); err == nil {
		t.Fatal("expected tampered value to be rejected")
	}
}

func TestParseValueIdentityKeyBadSizeRejected(t *testing.T) {
	if _, err := parseValue(ValueIdentityKey, append([]byte{0x00}, make([]byte, 5)...)); err == nil {
		t.Fatal("expected undersized identity key to be rejected")
	}
}

func TestParseValueACI(t *testing.T) {
	raw := make([]byte, 16)
	raw[0] = 0x01
	value := append([]byte{0x00}, raw...)
	got, err := parseValue(ValueACI, value)
	if err != nil {
		t.Fatalf("parseValue: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("ACI extraction mismatch: got %x want %x", got, raw)
	}
}

func TestParseValueACIWrongSizeRejected(t *testing.T) {
	value := append([]byte{0x00}, make([]byte, 10)...)
	if _, err := parseValue(ValueACI, value); err == nil {
		t.Fatal("expected a non-16-byte payload to be rejected as a bad ACI")
	}
}
