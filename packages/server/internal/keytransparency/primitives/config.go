// Package primitives implements the cryptographic collaborator the spec
// calls "KeyTransparency" (§6.2): VRF evaluation, signed-tree-head
// verification, prefix-tree inclusion-proof checking, and log-tree
// consistency-proof checking. The verification façade in package verify
// composes these operations; it never reimplements them.
package primitives

import (
	"crypto/ecdsa"
	"crypto/ed25519"
)

// Mode selects the deployment's trust model (§6.2).
type Mode int

const (
	// ModeDirect trusts only the server's signature.
	ModeDirect Mode = iota
	// ModeThirdPartyAuditing additionally requires an auditor co-signature
	// on every tree head.
	ModeThirdPartyAuditing
	// ModeThirdPartyManagement names the third-party-management deployment.
	// Verification handles it like ModeDirect: the server's signature is
	// required and no third-party signature is checked.
	ModeThirdPartyManagement
)

// SignatureAlgorithm names the signing key's algorithm, matching the
// teacher's transparency.Signer ("ed25519" or "p256").
type SignatureAlgorithm string

const (
	AlgorithmEd25519 SignatureAlgorithm = "ed25519"
	AlgorithmP256    SignatureAlgorithm = "p256"
)

// PublicConfig carries everything the primitive verifier needs to check a
// deployment's tree heads and VRF outputs (§6.2).
type PublicConfig struct {
	Mode Mode

	SignatureAlgorithm SignatureAlgorithm
	SignatureEd25519   ed25519.PublicKey
	SignatureECDSA     *ecdsa.PublicKey

	// AuditorEd25519 is required when Mode == ModeThirdPartyAuditing.
	AuditorEd25519 ed25519.PublicKey

	// VRFPublicKey is the Ed25519 public key the VRF's proofs verify
	// against (see vrf.go for the construction).
	VRFPublicKey ed25519.PublicKey

	// MaxHeadAge bounds how far a tree head's timestamp may be from the
	// verification time, in either direction, before package verify
	// rejects it as a staleness violation. Zero disables the check.
	MaxHeadAge int64 // seconds
}
