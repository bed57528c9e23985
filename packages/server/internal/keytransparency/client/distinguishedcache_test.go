package client

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/transport"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

func TestDistinguishedCacheNilIsNoOp(t *testing.T) {
	var c *DistinguishedCache
	if got := c.Get(); got != nil {
		t.Fatalf("Get on nil cache: got %v, want nil", got)
	}
	c.Set(store.LastTreeHead{TreeHead: wire.TreeHead{TreeSize: 9}})
}

func TestDistinguishedCacheRoundTrip(t *testing.T) {
	c := &DistinguishedCache{}
	if got := c.Get(); got != nil {
		t.Fatalf("Get before Set: got %v, want nil", got)
	}
	c.Set(store.LastTreeHead{TreeHead: wire.TreeHead{TreeSize: 5}})
	got := c.Get()
	if got == nil || got.TreeHead.TreeSize != 5 {
		t.Fatalf("Get after Set: got %v, want TreeSize 5", got)
	}

	// Mutating the returned pointer must not corrupt the cache's copy.
	got.TreeHead.TreeSize = 999
	again := c.Get()
	if again.TreeHead.TreeSize != 5 {
		t.Fatalf("cache mutated by caller: got %d, want 5", again.TreeHead.TreeSize)
	}
}

// TestDistinguishedFillsCacheOnBootstrap exercises the wiring in
// Kt.Distinguished: a successful call populates an attached
// DistinguishedCache even when the caller passed a nil prior.
func TestDistinguishedFillsCacheOnBootstrap(t *testing.T) {
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
	commitment := []byte("distinguished-cache-commitment")
	sibling := []byte("distinguished-cache-sibling-0000")
	leaf := hashLeaf(commitment, value)
	var root []byte
	if getBit(output, 0) == 0 {
		root = hashLeafCombine(leaf, sibling)
	} else {
		root = hashLeafCombine(sibling, leaf)
	}

	ts := time.Unix(1_700_000_300, 0).UTC()
	sig := ed25519.Sign(sigPriv, signedMessage(4, root, ts.Unix()))

	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: 4, Timestamp: ts, Signature: sig},
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

	cache := &DistinguishedCache{}
	k := New(tr, cfg, time.Second).WithDistinguishedCache(cache)

	if cache.Get() != nil {
		t.Fatal("cache should start empty")
	}

	out, err := k.Distinguished(context.Background(), nil)
	if err != nil {
		t.Fatalf("Distinguished: %v", err)
	}
	if out.Head.TreeHead.TreeSize != 4 {
		t.Fatalf("unexpected tree size %d", out.Head.TreeHead.TreeSize)
	}

	cached := cache.Get()
	if cached == nil || cached.TreeHead.TreeSize != 4 {
		t.Fatalf("Distinguished did not populate cache: got %v", cached)
	}
}
