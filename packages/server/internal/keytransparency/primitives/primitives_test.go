package primitives

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestVRFRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	input := []byte("a" + "0123456789abcdef")
	output, proof, err := Evaluate(priv, input)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(output) != OutputSize {
		t.Fatalf("unexpected output size %d", len(output))
	}
	if err := VerifyVRF(pub, input, output, proof); err != nil {
		t.Fatalf("VerifyVRF: %v", err)
	}
}

func TestVRFRejectsWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	input := []byte("input")
	output, proof, err := Evaluate(priv, input)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if err := VerifyVRF(otherPub, input, output, proof); err == nil {
		t.Fatal("expected verification against the wrong key to fail")
	}
}

func TestDeriveVRFOutputDeterministic(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	input := []byte("stable-input")
	_, proof, err := Evaluate(priv, input)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	o1, err := DeriveVRFOutput(pub, input, proof)
	if err != nil {
		t.Fatalf("DeriveVRFOutput: %v", err)
	}
	o2, err := DeriveVRFOutput(pub, input, proof)
	if err != nil {
		t.Fatalf("DeriveVRFOutput: %v", err)
	}
	if !constantTimeEqual(o1, o2) {
		t.Fatal("VRF output must be a deterministic function of (pk, input, proof)")
	}
}

func TestTreeHeadSignatureRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cfg := PublicConfig{SignatureAlgorithm: AlgorithmEd25519, SignatureEd25519: pub}
	root := []byte("0123456789012345678901234567890a")[:32]
	ts := time.Now().Unix()
	sig := ed25519.Sign(priv, signedMessage(100, root, ts))
	if err := VerifyTreeHeadSignature(cfg, 100, root, ts, sig); err != nil {
		t.Fatalf("VerifyTreeHeadSignature: %v", err)
	}
}

func TestTreeHeadSignatureRejectsTamperedRoot(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cfg := PublicConfig{SignatureAlgorithm: AlgorithmEd25519, SignatureEd25519: pub}
	root := make([]byte, 32)
	ts := time.Now().Unix()
	sig := ed25519.Sign(priv, signedMessage(100, root, ts))
	tamperedRoot := make([]byte, 32)
	tamperedRoot[0] = 1
	if err := VerifyTreeHeadSignature(cfg, 100, tamperedRoot, ts, sig); err == nil {
		t.Fatal("expected signature check to fail for a tampered root")
	}
}

func TestAuditorSignatureOptionalOutsideAuditingMode(t *testing.T) {
	cfg := PublicConfig{Mode: ModeDirect}
	if err := VerifyAuditorSignature(cfg, 1, nil, 0, nil); err != nil {
		t.Fatalf("expected no auditor check in direct mode, got %v", err)
	}
}

func TestAuditorSignatureRequiredInAuditingMode(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	cfg := PublicConfig{Mode: ModeThirdPartyAuditing, AuditorEd25519: pub}
	if err := VerifyAuditorSignature(cfg, 1, nil, 0, nil); err == nil {
		t.Fatal("expected missing auditor signature to be rejected in auditing mode")
	}
}

func TestPrefixInclusionSingleLevel(t *testing.T) {
	commitment := []byte("commitment-seed")
	value := []byte{0x00, 0xAA}
	leaf := hashLeaf(commitment, value)
	sibling := []byte("sibling-hash-000000000000000000")
	root := hashInternal(leaf, sibling)

	vrfOutput := []byte{0x00} // bit 0 of byte 0 is 0 -> leaf is left child
	if err := VerifyPrefixInclusion(vrfOutput, commitment, value, [][]byte{sibling}, 1, root); err != nil {
		t.Fatalf("VerifyPrefixInclusion: %v", err)
	}
}

func TestPrefixInclusionRejectsWrongRoot(t *testing.T) {
	commitment := []byte("commitment-seed")
	value := []byte{0x00, 0xAA}
	sibling := []byte("sibling-hash-000000000000000000")
	vrfOutput := []byte{0x00}
	wrongRoot := []byte("not-the-real-root-000000000000")
	if err := VerifyPrefixInclusion(vrfOutput, commitment, value, [][]byte{sibling}, 1, wrongRoot); err == nil {
		t.Fatal("expected mismatched root to be rejected")
	}
}

func TestPrefixInclusionDepthMismatch(t *testing.T) {
	err := VerifyPrefixInclusion([]byte{0}, nil, nil, [][]byte{{1}, {2}}, 1, nil)
	if err == nil {
		t.Fatal("expected depth/sibling-count mismatch to be rejected")
	}
}

func TestConsistencySameSize(t *testing.T) {
	root := []byte("root")
	if err := VerifyConsistency(5, 5, root, root, nil); err != nil {
		t.Fatalf("expected identical size/root to pass, got %v", err)
	}
	if err := VerifyConsistency(5, 5, root, []byte("other"), nil); err == nil {
		t.Fatal("expected identical size with different root to fail")
	}
}

func TestConsistencyShrinkingTreeRejected(t *testing.T) {
	if err := VerifyConsistency(10, 5, []byte("a"), []byte("b"), nil); err == nil {
		t.Fatal("expected shrinking tree size to be rejected")
	}
}

func TestConsistencyZeroOldSizeAlwaysPasses(t *testing.T) {
	if err := VerifyConsistency(0, 100, nil, []byte("anything"), nil); err != nil {
		t.Fatalf("expected empty history to be trivially consistent, got %v", err)
	}
}

// TestConsistencyGrowthByOne exercises RFC 6962's algorithm for the
// simplest non-trivial case: a tree growing from 1 leaf to 2 leaves,
// where the single proof hash is the new second leaf.
func TestConsistencyGrowthByOne(t *testing.T) {
	leaf0 := hashLeaf([]byte("c0"), []byte{0x00, 1})
	leaf1 := hashLeaf([]byte("c1"), []byte{0x00, 2})
	newRoot := hashInternal(leaf0, leaf1)

	if err := VerifyConsistency(1, 2, leaf0, newRoot, [][]byte{leaf1}); err != nil {
		t.Fatalf("VerifyConsistency: %v", err)
	}
}
