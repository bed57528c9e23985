package client

import (
	"context"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
)

// unavailable is the migration-predecessor client variant (§9): a
// distinct concrete type implementing Operations whose every method
// returns kterrors.ErrNoEnvironment without performing any I/O. Its
// purpose is a compile-time guarantee that code paths meant only for a
// deprecated environment selector cannot accidentally issue a live
// protocol call — callers hold an Operations value, never knowing
// whether it is *Kt or *unavailable, so swapping one in is always safe.
type unavailable struct{}

// Unavailable returns an Operations implementation that always fails
// with ErrNoEnvironment.
func Unavailable() Operations { return unavailable{} }

var _ Operations = unavailable{}

func (unavailable) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	return nil, kterrors.ErrNoEnvironment
}

func (unavailable) Distinguished(ctx context.Context, prior *store.LastTreeHead) (*DistinguishedResult, error) {
	return nil, kterrors.ErrNoEnvironment
}

func (unavailable) Monitor(ctx context.Context, in MonitorInput) (*MonitorResult, error) {
	return nil, kterrors.ErrNoEnvironment
}
