package verify

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// monitorFixture builds a PublicConfig plus a single-identity monitor
// response whose prefix-tree proof and tree-head signature both verify
// against a known prior MonitoringData.Index.
func monitorFixture(t *testing.T) (primitives.PublicConfig, MonitorQuery, wire.MonitorResponse, time.Time) {
	t.Helper()
	sigPub, sigPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := primitives.PublicConfig{
		Mode:               primitives.ModeDirect,
		SignatureAlgorithm: primitives.AlgorithmEd25519,
		SignatureEd25519:   sigPub,
	}

	index := []byte("0123456789abcdef0123456789abcdef")
	value := append([]byte{0x00}, make([]byte, IdentityKeySize)...)
	commitment := []byte("commitment-seed")
	sibling := []byte("sibling-hash-000000000000000000")

	leaf := hashLeafForTest(commitment, value)
	var root []byte
	if getBitForTest(index, 0) == 0 {
		root = hashInternalForTest(leaf, sibling)
	} else {
		root = hashInternalForTest(sibling, leaf)
	}

	prior := store.MonitoringData{
		Index: index,
		Pos:   4,
		Ptrs:  map[uint64][]byte{4: commitment},
		Owned: true,
	}

	ts := time.Unix(1_700_000_500, 0).UTC()
	sig := ed25519.Sign(sigPriv, signedMessageForTest(20, root, ts.Unix()))

	resp := wire.MonitorResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: 20, Timestamp: ts, Signature: sig},
		},
		ACI: wire.MonitorProof{
			Pos:        4,
			Siblings:   [][]byte{sibling},
			Value:      value,
			Commitment: commitment,
			Root:       root,
		},
	}

	return cfg, MonitorQuery{Prior: prior}, resp, ts
}

func TestMonitorACIPositionStable(t *testing.T) {
	cfg, query, resp, ts := monitorFixture(t)
	update, err := VerifyMonitor(cfg, &resp, query, nil, nil, MonitorContext{}, ts)
	if err != nil {
		t.Fatalf("VerifyMonitor: %v", err)
	}
	if update.ACI.Pos != query.Prior.Pos {
		t.Errorf("expected stable ACI position, got %d want %d", update.ACI.Pos, query.Prior.Pos)
	}
	if update.NewLastTreeHead.TreeHead.TreeSize != 20 {
		t.Errorf("unexpected new tree size %d", update.NewLastTreeHead.TreeHead.TreeSize)
	}
}

func TestMonitorMovedPositionRejected(t *testing.T) {
	cfg, query, resp, ts := monitorFixture(t)
	resp.ACI.Pos = 999
	if _, err := VerifyMonitor(cfg, &resp, query, nil, nil, MonitorContext{}, ts); err == nil {
		t.Fatal("expected a changed log position to be rejected")
	}
}

func TestMonitorMissingE164OptionalityMismatch(t *testing.T) {
	cfg, query, resp, ts := monitorFixture(t)
	e164Query := &MonitorQuery{Prior: store.MonitoringData{Index: []byte("x"), Pos: 1}}
	_, err := VerifyMonitor(cfg, &resp, query, e164Query, nil, MonitorContext{}, ts)
	if err == nil {
		t.Fatal("expected missing E164 result with a requested E164 query to be rejected")
	}
	if _, ok := err.(*kterrors.InvalidResponseError); !ok {
		t.Fatalf("expected InvalidResponseError, got %T: %v", err, err)
	}
}

func TestMonitorTreeSizeBackwardsRejected(t *testing.T) {
	cfg, query, resp, ts := monitorFixture(t)
	prior := &store.LastTreeHead{TreeHead: wire.TreeHead{TreeSize: 9999}, Root: resp.ACI.Root}
	// A non-empty Last proof gets past the missing-proof gate, so the
	// rejection comes from the consistency check's tree-size comparison.
	resp.FullTreeHead.Last = wire.ConsistencyProof{Hashes: [][]byte{resp.ACI.Root}}
	if _, err := VerifyMonitor(cfg, &resp, query, nil, nil, MonitorContext{LastTreeHead: prior}, ts); err == nil {
		t.Fatal("expected a tree that shrank relative to the prior head to be rejected")
	}
}
