package primitives

// This file implements a deterministic-signature VRF: the same
// construction the teacher's transparency.Signer already uses for tree
// heads (Ed25519 over a fixed-layout message), reused here as a keyed
// pseudorandom function plus publicly verifiable proof. A full
// RFC 9381 ECVRF (Elligator map, cofactor clearing, named-curve scalar
// arithmetic) needs curve internals no pack example implements without
// vendoring a dedicated library; this project instead grounds the VRF
// on the teacher's own Ed25519 signing code:
//
//	proof  = Ed25519.Sign(sk, input)
//	output = SHA-256(pk || proof)
//
// Verification recomputes output from (pk, input, proof) after checking
// the Ed25519 signature, so the output is unforgeable without sk and
// deterministic for a given input, which is what the façade needs from
// "VRF evaluation": a pseudorandom, provable mapping from search key to
// tree index.
import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
)

// OutputSize is the size in bytes of a VRF output.
const OutputSize = sha256.Size

// ProofSize is the size in bytes of a VRF proof (an Ed25519 signature).
const ProofSize = ed25519.SignatureSize

// Evaluate computes the VRF output and proof for input under sk. Used by
// the directory server, not the client, but kept alongside VerifyVRF so the
// construction lives in one place.
func Evaluate(sk ed25519.PrivateKey, input []byte) (output, proof []byte, err error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, nil, errors.New("primitives: invalid VRF private key size")
	}
	proof = ed25519.Sign(sk, input)
	sum := sha256.Sum256(append(append([]byte(nil), sk.Public().(ed25519.PublicKey)...), proof...))
	return sum[:], proof, nil
}

// VerifyVRF checks that proof is a valid VRF proof of input under pk, and
// that it evaluates to output. Used when a caller already has a claimed
// output to check a proof against.
func VerifyVRF(pk ed25519.PublicKey, input, output, proof []byte) error {
	want, err := DeriveVRFOutput(pk, input, proof)
	if err != nil {
		return err
	}
	if !constantTimeEqual(want, output) {
		return errors.New("primitives: VRF output does not match proof")
	}
	return nil
}

// DeriveVRFOutput checks that proof is a valid VRF proof of input under
// pk and returns the output it commits to. The wire format never
// transmits the output directly (only the proof and the prefix-tree
// position it implies), so the verifier derives it here rather than
// checking it against a claimed value.
func DeriveVRFOutput(pk ed25519.PublicKey, input, proof []byte) ([]byte, error) {
	if len(pk) != ed25519.PublicKeySize {
		return nil, errors.New("primitives: invalid VRF public key size")
	}
	if len(proof) != ProofSize {
		return nil, errors.New("primitives: malformed VRF proof")
	}
	if !ed25519.Verify(pk, input, proof) {
		return nil, errors.New("primitives: VRF proof does not verify")
	}
	sum := sha256.Sum256(append(append([]byte(nil), pk...), proof...))
	return sum[:], nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
