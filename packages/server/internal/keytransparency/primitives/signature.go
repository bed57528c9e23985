package primitives

// Tree-head signature verification, grounded on the teacher's
// transparency.Signer.Verify (packages/server/internal/transparency/signing.go):
// the same two supported algorithms (Ed25519, ECDSA P-256) and the same
// big-endian fixed-width fields, but a different signed message: the
// teacher signs epoch || root || tree_size || timestamp, while this
// package verifies tree_size || root || timestamp (see signedMessage).

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// signedMessage reconstructs the exact bytes the server signed for a tree
// head: tree_size (8 bytes) || root (32 bytes) || timestamp_unix (8 bytes).
func signedMessage(treeSize uint64, root []byte, timestampUnix int64) []byte {
	data := make([]byte, 8+len(root)+8)
	binary.BigEndian.PutUint64(data[0:8], treeSize)
	copy(data[8:8+len(root)], root)
	binary.BigEndian.PutUint64(data[8+len(root):], uint64(timestampUnix))
	return data
}

// VerifyTreeHeadSignature checks the server's signature over a tree head.
func VerifyTreeHeadSignature(cfg PublicConfig, treeSize uint64, root []byte, timestampUnix int64, sig []byte) error {
	msg := signedMessage(treeSize, root, timestampUnix)
	switch cfg.SignatureAlgorithm {
	case AlgorithmEd25519:
		if len(cfg.SignatureEd25519) != ed25519.PublicKeySize {
			return errors.New("primitives: signing key not configured")
		}
		if !ed25519.Verify(cfg.SignatureEd25519, msg, sig) {
			return errors.New("primitives: tree head signature invalid")
		}
		return nil
	case AlgorithmP256:
		if cfg.SignatureECDSA == nil {
			return errors.New("primitives: signing key not configured")
		}
		hash := sha256.Sum256(msg)
		if !ecdsa.VerifyASN1(cfg.SignatureECDSA, hash[:], sig) {
			return errors.New("primitives: tree head signature invalid")
		}
		return nil
	default:
		return errors.New("primitives: unsupported signature algorithm")
	}
}

// VerifyAuditorSignature checks the auditor's co-signature required in
// ModeThirdPartyAuditing (§3.2, §6.2).
func VerifyAuditorSignature(cfg PublicConfig, treeSize uint64, root []byte, timestampUnix int64, sig []byte) error {
	if cfg.Mode != ModeThirdPartyAuditing {
		return nil
	}
	if len(sig) == 0 {
		return errors.New("primitives: missing required auditor co-signature")
	}
	if len(cfg.AuditorEd25519) != ed25519.PublicKeySize {
		return errors.New("primitives: auditor key not configured")
	}
	msg := signedMessage(treeSize, root, timestampUnix)
	if !ed25519.Verify(cfg.AuditorEd25519, msg, sig) {
		return errors.New("primitives: auditor signature invalid")
	}
	return nil
}
