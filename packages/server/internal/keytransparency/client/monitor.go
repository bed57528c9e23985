package client

import (
	"context"
	"net/http"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/verify"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// Monitor implements §4.7: build a MonitorKey per identity the caller
// already has monitoring data for, issue one request, and verify the
// response against the previously known positions.
func (k *Kt) Monitor(ctx context.Context, in MonitorInput) (*MonitorResult, error) {
	if in.Distinguished.TreeHead.TreeSize == 0 {
		if cached := k.distinguished.Get(); cached != nil {
			in.Distinguished = *cached
		}
	}

	params := wire.MonitorRequestParams{
		ACI: wire.MonitorKeyParams{
			Value:           in.ACI.ChatValue(),
			EntryPosition:   in.AccountData.ACI.Pos,
			CommitmentIndex: in.AccountData.ACI.Index,
		},
		LastNonDistinguishedTreeHeadSize: in.AccountData.LastTreeHead.TreeHead.TreeSize,
		LastDistinguishedTreeHeadSize:    in.Distinguished.TreeHead.TreeSize,
	}

	if in.E164 != nil {
		if in.AccountData.E164 == nil {
			return nil, kterrors.InvalidRequest("missing E.164 monitoring data")
		}
		params.E164 = &wire.MonitorKeyParams{
			Value:           in.E164.ChatValue(),
			EntryPosition:   in.AccountData.E164.Pos,
			CommitmentIndex: in.AccountData.E164.Index,
		}
	}
	if in.UsernameHash != nil {
		if in.AccountData.UsernameHash == nil {
			return nil, kterrors.InvalidRequest("missing username hash monitoring data")
		}
		params.UsernameHash = &wire.MonitorKeyParams{
			Value:           in.UsernameHash.ChatValue(),
			EntryPosition:   in.AccountData.UsernameHash.Pos,
			CommitmentIndex: in.AccountData.UsernameHash.Index,
		}
	}

	body, err := wire.EncodeMonitorRequest(params)
	if err != nil {
		return nil, kterrors.InvalidRequest(err.Error())
	}

	resp, err := k.send(ctx, http.MethodPost, wire.PathMonitor, body)
	if err != nil {
		return nil, err
	}

	parsed, err := wire.DecodeMonitorResponseBody(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := wire.NormalizeMonitorResponse(parsed, params); err != nil {
		return nil, err
	}

	aciQuery := verify.MonitorQuery{Prior: in.AccountData.ACI}
	var e164Query, usernameQuery *verify.MonitorQuery
	if in.E164 != nil {
		q := verify.MonitorQuery{Prior: *in.AccountData.E164}
		e164Query = &q
	}
	if in.UsernameHash != nil {
		q := verify.MonitorQuery{Prior: *in.AccountData.UsernameHash}
		usernameQuery = &q
	}

	update, err := verify.VerifyMonitor(k.config, parsed, aciQuery, e164Query, usernameQuery, verify.MonitorContext{
		LastTreeHead:          &in.AccountData.LastTreeHead,
		DistinguishedTreeHead: &in.Distinguished,
	}, time.Now())
	if err != nil {
		return nil, err
	}

	if update.NewLastTreeHead.TreeHead.TreeSize < in.AccountData.LastTreeHead.TreeHead.TreeSize {
		return nil, kterrors.VerificationFailed("tree size went backwards across monitor update")
	}

	if in.Distinguished.TreeHead.TreeSize != 0 {
		k.distinguished.Set(in.Distinguished)
	}

	updated := store.AccountData{
		ACI:          update.ACI,
		LastTreeHead: update.NewLastTreeHead,
	}
	if update.E164 != nil {
		updated.E164 = update.E164
	}
	if update.UsernameHash != nil {
		updated.UsernameHash = update.UsernameHash
	}

	return &MonitorResult{
		Timestamp:          time.Now(),
		UpdatedAccountData: updated,
	}, nil
}
