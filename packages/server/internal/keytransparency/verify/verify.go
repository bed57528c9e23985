// Package verify implements the verification façade (§4.4): it wraps the
// cryptographic primitives in package primitives and enforces the
// cross-cut invariants the primitive layer does not — optionality,
// value-prefix, root equality across sub-results, and monotone tree size.
// It never re-implements a proof check itself; every cryptographic
// decision is delegated to primitives.
package verify

import (
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/searchkey"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// IdentityKeySize is the wire length of a libsignal identity key: one
// type byte plus a 32-byte Curve25519 public key.
const IdentityKeySize = 33

// ValueKind selects how a verified tree value is parsed (§4.4 item 3):
// the ACI search result's payload is an IdentityKey, while e164 and
// username-hash results resolve to an ACI.
type ValueKind int

const (
	ValueIdentityKey ValueKind = iota
	ValueACI
)

// IdentityQuery bundles one identity's search key with the monitoring
// data the caller previously observed for it, if any.
type IdentityQuery struct {
	SearchKey []byte
	Prior     *store.MonitoringData
}

// SearchContext carries everything verify_search needs beyond the
// response itself (§6.2).
type SearchContext struct {
	LastTreeHead          *store.LastTreeHead
	DistinguishedTreeHead *store.LastTreeHead
}

// VerifiedValue is one identity's extracted, already-stripped payload
// plus its freshly updated monitoring data.
type VerifiedValue struct {
	Value   []byte
	Updated store.MonitoringData
}

// SearchOutcome is the façade's output for a verified search response
// (§4.4 item 4).
type SearchOutcome struct {
	ACI             VerifiedValue
	E164            *VerifiedValue
	UsernameHash    *VerifiedValue
	NewLastTreeHead store.LastTreeHead
}

// stripVersionPrefix enforces the §3.3 value format: every verified
// value begins with version byte 0x00.
func stripVersionPrefix(value []byte) ([]byte, error) {
	if len(value) == 0 || value[0] != 0x00 {
		return nil, kterrors.InvalidResponse("bad value format")
	}
	return value[1:], nil
}

// verifyTreeHead checks the signature (and, in auditing mode, the
// auditor co-signature) over a tree head against the root claimed by its
// per-identity results, then checks the consistency proofs to the
// caller's prior last and distinguished heads.
func verifyTreeHead(cfg primitives.PublicConfig, full wire.FullTreeHead, root []byte, lastHead, distinguishedHead *store.LastTreeHead, now time.Time) error {
	// A caller with no prior head yet (first-ever search, or a bootstrap
	// distinguished fetch) is expected to pass a zero-value sentinel
	// rather than a nil pointer in some callers (e.g. SearchInput.Distinguished
	// is a plain value, always addressable); treat tree_size == 0 the same
	// as "no prior head" so the consistency-proof gate below doesn't
	// demand a proof the caller has no way to have obtained.
	if lastHead != nil && lastHead.TreeHead.TreeSize == 0 {
		lastHead = nil
	}
	if distinguishedHead != nil && distinguishedHead.TreeHead.TreeSize == 0 {
		distinguishedHead = nil
	}

	th := full.TreeHead

	if cfg.MaxHeadAge > 0 {
		age := now.Unix() - th.Timestamp.Unix()
		if age > cfg.MaxHeadAge || age < -cfg.MaxHeadAge {
			return kterrors.VerificationFailed("tree head timestamp outside staleness bound")
		}
	}

	if err := primitives.VerifyTreeHeadSignature(cfg, th.TreeSize, root, th.Timestamp.Unix(), th.Signature); err != nil {
		return kterrors.VerificationFailed(err.Error())
	}
	if err := primitives.VerifyAuditorSignature(cfg, th.TreeSize, root, th.Timestamp.Unix(), th.AuditorSignature); err != nil {
		return kterrors.VerificationFailed(err.Error())
	}

	if lastHead != nil {
		if full.Last.Empty() {
			return kterrors.VerificationFailed("missing consistency proof against prior head")
		}
		if err := primitives.VerifyConsistency(lastHead.TreeHead.TreeSize, th.TreeSize, lastHead.Root, root, full.Last.Hashes); err != nil {
			return kterrors.VerificationFailed(err.Error())
		}
	} else if !full.Last.Empty() {
		return kterrors.VerificationFailed("unexpected consistency proof with no prior head")
	}

	if distinguishedHead != nil {
		if full.Distinguished.Empty() {
			return kterrors.VerificationFailed("missing consistency proof against distinguished head")
		}
		if err := primitives.VerifyConsistency(distinguishedHead.TreeHead.TreeSize, th.TreeSize, distinguishedHead.Root, root, full.Distinguished.Hashes); err != nil {
			return kterrors.VerificationFailed(err.Error())
		}
	}

	return nil
}

// parseValue extracts a verified, prefix-stripped tree value according
// to kind (§4.4 item 3): an IdentityKey is a fixed-size curve-point
// encoding, while an ACI is parsed with the same validation the wire
// layer uses for request search keys.
func parseValue(kind ValueKind, value []byte) ([]byte, error) {
	stripped, err := stripVersionPrefix(value)
	if err != nil {
		return nil, err
	}
	switch kind {
	case ValueIdentityKey:
		if len(stripped) != IdentityKeySize {
			return nil, kterrors.InvalidResponse("bad identity key")
		}
		return stripped, nil
	case ValueACI:
		aci, err := searchkey.ParseACI(stripped)
		if err != nil {
			return nil, kterrors.InvalidResponse("bad ACI")
		}
		return aci[:], nil
	default:
		return nil, kterrors.InvalidResponse("bad value format")
	}
}

// verifySearchResult checks one identity's prefix-tree inclusion proof
// and returns its verified payload plus fresh monitoring data.
func verifySearchResult(cfg primitives.PublicConfig, q IdentityQuery, result wire.CondensedTreeSearchResult, kind ValueKind) (VerifiedValue, error) {
	vrfOutput, err := primitives.DeriveVRFOutput(cfg.VRFPublicKey, q.SearchKey, result.Proof.VRFProof)
	if err != nil {
		return VerifiedValue{}, kterrors.VerificationFailed(err.Error())
	}
	if q.Prior != nil && len(q.Prior.Index) > 0 {
		if string(q.Prior.Index) != string(vrfOutput) {
			return VerifiedValue{}, kterrors.VerificationFailed("VRF output changed for a previously observed identity")
		}
	}

	if err := primitives.VerifyPrefixInclusion(vrfOutput, result.Commitment, result.Value, result.Proof.Siblings, result.Proof.Depth, result.Root); err != nil {
		return VerifiedValue{}, kterrors.VerificationFailed(err.Error())
	}

	value, err := parseValue(kind, result.Value)
	if err != nil {
		return VerifiedValue{}, err
	}

	ptrs := map[uint64][]byte{}
	if q.Prior != nil {
		for pos, seed := range q.Prior.Ptrs {
			ptrs[pos] = seed
		}
	}
	ptrs[result.Pos] = result.Commitment

	updated := store.MonitoringData{
		Index: vrfOutput,
		Pos:   result.Pos,
		Ptrs:  ptrs,
		Owned: true,
	}
	return VerifiedValue{Value: value, Updated: updated}, nil
}

// VerifySearch implements the §4.4 façade over a normalized search
// response: root equality across sub-results, tree-head verification,
// per-identity prefix inclusion, and value extraction.
func VerifySearch(cfg primitives.PublicConfig, resp *wire.SearchResponse, aci IdentityQuery, e164, usernameHash *IdentityQuery, ctx SearchContext, now time.Time) (*SearchOutcome, error) {
	roots := [][]byte{resp.ACI.Root}
	if resp.E164 != nil {
		roots = append(roots, resp.E164.Root)
	}
	if resp.UsernameHash != nil {
		roots = append(roots, resp.UsernameHash.Root)
	}
	for _, r := range roots[1:] {
		if !bytesEqual(r, roots[0]) {
			return nil, kterrors.InvalidResponse("mismatching tree roots")
		}
	}
	root := roots[0]

	if err := verifyTreeHead(cfg, resp.FullTreeHead, root, ctx.LastTreeHead, ctx.DistinguishedTreeHead, now); err != nil {
		return nil, err
	}

	aciResult, err := verifySearchResult(cfg, aci, resp.ACI, ValueIdentityKey)
	if err != nil {
		return nil, err
	}

	out := &SearchOutcome{
		ACI: aciResult,
		NewLastTreeHead: store.LastTreeHead{
			TreeHead: resp.FullTreeHead.TreeHead,
			Root:     root,
		},
	}

	if (e164 != nil) != (resp.E164 != nil) {
		return nil, kterrors.InvalidResponse("request/response optionality mismatch")
	}
	if e164 != nil {
		v, err := verifySearchResult(cfg, *e164, *resp.E164, ValueACI)
		if err != nil {
			return nil, err
		}
		out.E164 = &v
	}

	if (usernameHash != nil) != (resp.UsernameHash != nil) {
		return nil, kterrors.InvalidResponse("request/response optionality mismatch")
	}
	if usernameHash != nil {
		v, err := verifySearchResult(cfg, *usernameHash, *resp.UsernameHash, ValueACI)
		if err != nil {
			return nil, err
		}
		out.UsernameHash = &v
	}

	return out, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
