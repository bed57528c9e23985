package client

import (
	"context"
	"net/http"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/searchkey"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/verify"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// Distinguished implements §4.6: fetch the shared canary entry, whose
// search key is the literal string "distinguished". prior is the
// caller's previously trusted distinguished head, if any; a nil prior
// is valid (first-ever fetch, or a deliberate bootstrap).
func (k *Kt) Distinguished(ctx context.Context, prior *store.LastTreeHead) (*DistinguishedResult, error) {
	if prior == nil {
		prior = k.distinguished.Get()
	}

	var lastSize *uint64
	if prior != nil {
		size := prior.TreeHead.TreeSize
		lastSize = &size
	}

	resp, err := k.send(ctx, http.MethodGet, wire.DistinguishedPath(lastSize), nil)
	if err != nil {
		return nil, err
	}

	parsed, err := wire.DecodeSearchResponseBody(resp.Body)
	if err != nil {
		return nil, err
	}

	searchKey := []byte(searchkey.DistinguishedSearchKey)
	outcome, err := verify.VerifySearch(k.config, parsed, verify.IdentityQuery{SearchKey: searchKey}, nil, nil, verify.SearchContext{
		DistinguishedTreeHead: prior,
	}, time.Now())
	if err != nil {
		return nil, err
	}

	k.distinguished.Set(outcome.NewLastTreeHead)

	return &DistinguishedResult{
		Timestamp: time.Now(),
		Head:      outcome.NewLastTreeHead,
	}, nil
}
