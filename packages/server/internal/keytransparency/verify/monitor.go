package verify

import (
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// MonitorQuery carries the prior monitoring data a monitor call checks
// for an identity (§4.7). Unlike a search, monitor never re-derives the
// VRF output; the prefix-tree position is already known from a prior
// search, so the proof walk uses Prior.Index directly as the path.
type MonitorQuery struct {
	Prior store.MonitoringData
}

// MonitorContext carries the state a monitor call verifies against
// (§6.2).
type MonitorContext struct {
	LastTreeHead          *store.LastTreeHead
	DistinguishedTreeHead *store.LastTreeHead
}

// LocalStateUpdate is the façade's output for a verified monitor
// response (§4.7 item 4).
type LocalStateUpdate struct {
	ACI             store.MonitoringData
	E164            *store.MonitoringData
	UsernameHash    *store.MonitoringData
	NewLastTreeHead store.LastTreeHead
}

func verifyMonitorResult(q MonitorQuery, proof wire.MonitorProof, root []byte) (store.MonitoringData, error) {
	if proof.Pos != q.Prior.Pos {
		return store.MonitoringData{}, kterrors.VerificationFailed("monitor proof position does not match requested entry")
	}
	if err := primitives.VerifyPrefixInclusion(q.Prior.Index, proof.Commitment, proof.Value, proof.Siblings, uint32(len(proof.Siblings)), root); err != nil {
		return store.MonitoringData{}, kterrors.VerificationFailed(err.Error())
	}

	ptrs := make(map[uint64][]byte, len(q.Prior.Ptrs)+1)
	for pos, seed := range q.Prior.Ptrs {
		ptrs[pos] = seed
	}
	ptrs[proof.Pos] = proof.Commitment

	return store.MonitoringData{
		Index: q.Prior.Index,
		Pos:   proof.Pos,
		Ptrs:  ptrs,
		Owned: q.Prior.Owned,
	}, nil
}

// VerifyMonitor implements the §4.7 façade over a normalized monitor
// response: root equality, tree-head verification, and per-identity
// prefix-proof checking against already-known positions.
func VerifyMonitor(cfg primitives.PublicConfig, resp *wire.MonitorResponse, aci MonitorQuery, e164, usernameHash *MonitorQuery, ctx MonitorContext, now time.Time) (*LocalStateUpdate, error) {
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

	if ctx.LastTreeHead != nil && resp.FullTreeHead.TreeHead.TreeSize < ctx.LastTreeHead.TreeHead.TreeSize {
		return nil, kterrors.VerificationFailed("tree size went backwards")
	}

	aciUpdated, err := verifyMonitorResult(aci, resp.ACI, root)
	if err != nil {
		return nil, err
	}
	if aciUpdated.Pos != aci.Prior.Pos {
		return nil, kterrors.VerificationFailed("ACI log position changed unexpectedly during monitor")
	}

	out := &LocalStateUpdate{
		ACI: aciUpdated,
		NewLastTreeHead: store.LastTreeHead{
			TreeHead: resp.FullTreeHead.TreeHead,
			Root:     root,
		},
	}

	if (e164 != nil) != (resp.E164 != nil) {
		return nil, kterrors.InvalidResponse("request/response optionality mismatch")
	}
	if e164 != nil {
		v, err := verifyMonitorResult(*e164, *resp.E164, root)
		if err != nil {
			return nil, err
		}
		out.E164 = &v
	}

	if (usernameHash != nil) != (resp.UsernameHash != nil) {
		return nil, kterrors.InvalidResponse("request/response optionality mismatch")
	}
	if usernameHash != nil {
		v, err := verifyMonitorResult(*usernameHash, *resp.UsernameHash, root)
		if err != nil {
			return nil, err
		}
		out.UsernameHash = &v
	}

	return out, nil
}
