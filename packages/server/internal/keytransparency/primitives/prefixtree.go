package primitives

// Prefix-tree inclusion-proof verification, generalized from the teacher's
// transparency.VerifyInclusionProof (internal/transparency/merkle.go):
// same bit-at-a-time sibling-path walk and HashInternal combiner, but the
// path length is the proof's own Depth (a VRF output gives a pseudorandom
// path of bounded, not fixed, depth) rather than a hardcoded 256.

import (
	"crypto/sha256"
	"errors"
)

// hashLeaf binds a prefix-tree leaf to its commitment and value, mirroring
// HashLeaf's role in the teacher's tree but over the KT leaf shape
// (commitment || value) instead of the teacher's LeafData fields.
func hashLeaf(commitment, value []byte) []byte {
	h := sha256.New()
	h.Write(commitment)
	h.Write(value)
	return h.Sum(nil)
}

// hashInternal combines a node's two children, identical in shape to the
// teacher's HashInternal.
func hashInternal(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// getBit returns the bit at the given index of data, index 0 being the
// most significant bit of the first byte — identical semantics to the
// teacher's GetBit.
func getBit(data []byte, index int) int {
	if index < 0 || index >= len(data)*8 {
		return 0
	}
	byteIndex := index / 8
	bitIndex := 7 - (index % 8)
	return int((data[byteIndex] >> bitIndex) & 1)
}

// VerifyPrefixInclusion recomputes a prefix-tree root from a leaf
// (commitment, value) and its sibling path, and checks it against the
// supplied root (§4.4 invariant 2: every search result's root must match
// across the response's sub-results, which the caller checks separately;
// this function only checks the leaf-to-root walk itself).
func VerifyPrefixInclusion(vrfOutput []byte, commitment, value []byte, siblings [][]byte, depth uint32, root []byte) error {
	if int(depth) != len(siblings) {
		return errors.New("primitives: proof depth does not match sibling count")
	}
	if len(vrfOutput)*8 < len(siblings) {
		return errors.New("primitives: proof depth exceeds VRF output length")
	}
	current := hashLeaf(commitment, value)
	for i := len(siblings) - 1; i >= 0; i-- {
		bit := getBit(vrfOutput, i)
		if bit == 0 {
			current = hashInternal(current, siblings[i])
		} else {
			current = hashInternal(siblings[i], current)
		}
	}
	if !constantTimeEqual(current, root) {
		return errors.New("primitives: prefix tree inclusion proof does not recompute the claimed root")
	}
	return nil
}
