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

// Search implements §4.5: build the request from account/identity
// inputs, send it, normalize and verify the response, and return the
// extracted values plus a fresh AccountData.
func (k *Kt) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	if in.Distinguished.TreeHead.TreeSize == 0 {
		if cached := k.distinguished.Get(); cached != nil {
			in.Distinguished = *cached
		}
	}

	params := wire.SearchRequestParams{
		ACISearchKey:              in.ACI.SearchKey(),
		ACIChatValue:              in.ACI.ChatValue(),
		ACIIdentityKey:            in.ACIIdentityKey,
		DistinguishedTreeHeadSize: in.Distinguished.TreeHead.TreeSize,
	}

	var priorLastHead *store.LastTreeHead
	if in.AccountData != nil {
		size := in.AccountData.LastTreeHead.TreeHead.TreeSize
		params.LastTreeHeadSize = &size
		priorLastHead = &in.AccountData.LastTreeHead
	}

	if in.E164 != nil {
		params.HasE164 = true
		params.E164ChatValue = in.E164.ChatValue()
		params.UnidentifiedAccessKey = in.UnidentifiedAccessKey
	}
	if in.UsernameHash != nil {
		params.HasUsernameHash = true
		params.UsernameHashChatValue = in.UsernameHash.ChatValue()
	}

	body, err := wire.EncodeSearchRequest(params)
	if err != nil {
		return nil, kterrors.InvalidRequest(err.Error())
	}

	resp, err := k.send(ctx, http.MethodPost, wire.PathSearch, body)
	if err != nil {
		return nil, err
	}

	parsed, err := wire.DecodeSearchResponseBody(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := wire.NormalizeSearchResponse(parsed, params); err != nil {
		return nil, err
	}

	aciQuery := verify.IdentityQuery{SearchKey: params.ACISearchKey}
	if in.AccountData != nil {
		aciQuery.Prior = &in.AccountData.ACI
	}

	var e164Query, usernameQuery *verify.IdentityQuery
	if in.E164 != nil {
		q := verify.IdentityQuery{SearchKey: in.E164.SearchKey()}
		if in.AccountData != nil {
			q.Prior = in.AccountData.E164
		}
		e164Query = &q
	}
	if in.UsernameHash != nil {
		q := verify.IdentityQuery{SearchKey: in.UsernameHash.SearchKey()}
		if in.AccountData != nil {
			q.Prior = in.AccountData.UsernameHash
		}
		usernameQuery = &q
	}

	outcome, err := verify.VerifySearch(k.config, parsed, aciQuery, e164Query, usernameQuery, verify.SearchContext{
		LastTreeHead:          priorLastHead,
		DistinguishedTreeHead: &in.Distinguished,
	}, time.Now())
	if err != nil {
		return nil, err
	}

	if in.Distinguished.TreeHead.TreeSize != 0 {
		k.distinguished.Set(in.Distinguished)
	}

	updated := store.AccountData{
		ACI:          outcome.ACI.Updated,
		LastTreeHead: outcome.NewLastTreeHead,
	}
	if outcome.E164 != nil {
		v := outcome.E164.Updated
		updated.E164 = &v
	}
	if outcome.UsernameHash != nil {
		v := outcome.UsernameHash.Updated
		updated.UsernameHash = &v
	}

	result := &SearchResult{
		ACIIdentityKey:     outcome.ACI.Value,
		Timestamp:          time.Now(),
		UpdatedAccountData: updated,
	}
	if outcome.E164 != nil {
		result.ACIForE164 = outcome.E164.Value
	}
	if outcome.UsernameHash != nil {
		result.ACIForUsernameHash = outcome.UsernameHash.Value
	}

	return result, nil
}
