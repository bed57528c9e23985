package client

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/transport"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

func TestDistinguishedBootstrapSucceeds(t *testing.T) {
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

	searchKey := []byte("distinguished")
	_, proof, err := primitives.Evaluate(vrfPriv, searchKey)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	output, err := primitives.DeriveVRFOutput(vrfPub, searchKey, proof)
	if err != nil {
		t.Fatalf("DeriveVRFOutput: %v", err)
	}

	identityKey := make([]byte, 33)
	value := append([]byte{0x00}, identityKey...)
	commitment := []byte("distinguished-commitment")
	sibling := []byte("distinguished-sibling-0000000000")
	leaf := hashLeaf(commitment, value)
	var root []byte
	if getBit(output, 0) == 0 {
		root = hashLeafCombine(leaf, sibling)
	} else {
		root = hashLeafCombine(sibling, leaf)
	}

	ts := time.Unix(1_700_000_200, 0).UTC()
	sig := ed25519.Sign(sigPriv, signedMessage(3, root, ts.Unix()))

	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: 3, Timestamp: ts, Signature: sig},
		},
		ACI: wire.CondensedTreeSearchResult{
			Proof:      wire.PrefixSearchProof{VRFProof: proof, Siblings: [][]byte{sibling}, Depth: 1},
			Value:      value,
			Commitment: commitment,
			Pos:        0,
			Root:       root,
		},
	}

	tr := &fakeTransport{responses: map[string]*transport.Response{
		wire.PathDistinguished: {StatusCode: 200, Body: envelope(resp.Encode())},
	}}

	k := New(tr, cfg, time.Second)
	out, err := k.Distinguished(context.Background(), nil)
	if err != nil {
		t.Fatalf("Distinguished: %v", err)
	}
	if out.Head.TreeHead.TreeSize != 3 {
		t.Errorf("unexpected tree size %d", out.Head.TreeHead.TreeSize)
	}
}

// distinguishedRepeatFixture builds a signed, self-consistent single-entry
// distinguished response plus the helpers needed to vary the prior head a
// repeat caller supplies.
type distinguishedRepeatFixture struct {
	cfg  primitives.PublicConfig
	resp *wire.SearchResponse
	root []byte
}

func newDistinguishedRepeatFixture(t *testing.T) *distinguishedRepeatFixture {
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

	searchKey := []byte("distinguished")
	_, proof, err := primitives.Evaluate(vrfPriv, searchKey)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	identityKey := make([]byte, 33)
	value := append([]byte{0x00}, identityKey...)
	commitment := []byte("distinguished-repeat-commitment")
	root := hashLeaf(commitment, value)

	ts := time.Unix(1_700_000_250, 0).UTC()
	sig := ed25519.Sign(sigPriv, signedMessage(3, root, ts.Unix()))

	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: 3, Timestamp: ts, Signature: sig},
			// Non-empty so the "a prior head was supplied" gate in
			// verifyTreeHead passes; same-size-as-prior case ignores the
			// hash contents and only compares roots.
			Distinguished: wire.ConsistencyProof{Hashes: [][]byte{[]byte("unused-for-equal-size-case")}},
		},
		ACI: wire.CondensedTreeSearchResult{
			Proof:      wire.PrefixSearchProof{VRFProof: proof, Siblings: nil, Depth: 0},
			Value:      value,
			Commitment: commitment,
			Pos:        0,
			Root:       root,
		},
	}

	return &distinguishedRepeatFixture{cfg: cfg, resp: resp, root: root}
}

// TestDistinguishedRepeatCallChecksDistinguishedConsistency covers a
// non-bootstrap caller: the prior distinguished head must be checked against
// the response's distinguished consistency proof, not silently skipped.
func TestDistinguishedRepeatCallChecksDistinguishedConsistency(t *testing.T) {
	f := newDistinguishedRepeatFixture(t)
	tr := &fakeTransport{responses: map[string]*transport.Response{
		wire.PathDistinguished: {StatusCode: 200, Body: envelope(f.resp.Encode())},
	}}

	prior := &store.LastTreeHead{
		TreeHead: wire.TreeHead{TreeSize: 3},
		Root:     f.root,
	}

	k := New(tr, f.cfg, time.Second)
	out, err := k.Distinguished(context.Background(), prior)
	if err != nil {
		t.Fatalf("Distinguished: %v", err)
	}
	if out.Head.TreeHead.TreeSize != 3 {
		t.Errorf("unexpected tree size %d", out.Head.TreeHead.TreeSize)
	}
}

// TestDistinguishedRepeatCallWrongPriorRootRejected is the regression case:
// before DistinguishedTreeHead was threaded through, a server could
// equivocate on the distinguished entry across calls and this would pass
// verification undetected.
func TestDistinguishedRepeatCallWrongPriorRootRejected(t *testing.T) {
	f := newDistinguishedRepeatFixture(t)
	tr := &fakeTransport{responses: map[string]*transport.Response{
		wire.PathDistinguished: {StatusCode: 200, Body: envelope(f.resp.Encode())},
	}}

	prior := &store.LastTreeHead{
		TreeHead: wire.TreeHead{TreeSize: 3},
		Root:     []byte("a-different-root-than-the-fixture-has"),
	}

	k := New(tr, f.cfg, time.Second)
	_, err := k.Distinguished(context.Background(), prior)
	if err == nil {
		t.Fatal("expected a mismatched prior distinguished root to be rejected")
	}
	if _, ok := err.(*kterrors.VerificationFailedError); !ok {
		t.Fatalf("expected VerificationFailedError, got %T: %v", err, err)
	}
}
