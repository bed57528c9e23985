// Package client implements the Kt protocol driver (§4.5–§4.7): the
// three operations search, distinguished, and monitor, composed from the
// wire codec, the verification façade, and a chat transport collaborator.
// Apart from an optional DistinguishedCache attached with
// WithDistinguishedCache, the driver owns no mutable state between calls —
// everything it needs is passed in and everything it produces is returned (§5).
package client

import (
	"context"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/searchkey"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/transport"
)

// DefaultChatTimeout is the per-request bound when the caller does not
// override it (§5).
const DefaultChatTimeout = 10 * time.Second

// SearchInput is every argument to a search call (§4.5).
type SearchInput struct {
	ACI                   searchkey.ACI
	ACIIdentityKey        []byte
	E164                  *searchkey.E164
	UnidentifiedAccessKey []byte
	UsernameHash          *searchkey.UsernameHash
	AccountData           *store.AccountData
	Distinguished         store.LastTreeHead
}

// SearchResult is the driver's output for a search call (§4.5).
type SearchResult struct {
	ACIIdentityKey     []byte
	ACIForE164         []byte
	ACIForUsernameHash []byte
	Timestamp          time.Time
	UpdatedAccountData store.AccountData
}

// MonitorInput is every argument to a monitor call (§4.7).
type MonitorInput struct {
	ACI           searchkey.ACI
	E164          *searchkey.E164
	UsernameHash  *searchkey.UsernameHash
	AccountData   store.AccountData
	Distinguished store.LastTreeHead
}

// MonitorResult is the driver's output for a monitor call (§4.7).
type MonitorResult struct {
	Timestamp          time.Time
	UpdatedAccountData store.AccountData
}

// DistinguishedResult is the driver's output for a distinguished call
// (§4.6). No identity is involved, so there is no extracted value.
type DistinguishedResult struct {
	Timestamp time.Time
	Head      store.LastTreeHead
}

// Operations is every capability the Kt driver exposes. The
// migration-predecessor phantom variant (Unavailable) also implements
// this, returning ErrNoEnvironment for every call without touching the
// network (§9, SPEC_FULL §5).
type Operations interface {
	Search(ctx context.Context, in SearchInput) (*SearchResult, error)
	Distinguished(ctx context.Context, prior *store.LastTreeHead) (*DistinguishedResult, error)
	Monitor(ctx context.Context, in MonitorInput) (*MonitorResult, error)
}

// Kt is the production driver: transport + codec + verification façade,
// bound to one deployment's PublicConfig (§4.5–§4.7).
type Kt struct {
	transport     transport.ChatTransport
	config        primitives.PublicConfig
	chatTimeout   time.Duration
	distinguished *DistinguishedCache
}

// New builds a Kt driver. chatTimeout of zero selects DefaultChatTimeout.
func New(t transport.ChatTransport, cfg primitives.PublicConfig, chatTimeout time.Duration) *Kt {
	if chatTimeout <= 0 {
		chatTimeout = DefaultChatTimeout
	}
	return &Kt{transport: t, config: cfg, chatTimeout: chatTimeout}
}

// WithDistinguishedCache attaches an optional DistinguishedCache: callers
// who don't want to thread the distinguished head through every call can
// opt in, while a nil cache (the default) preserves the base contract of
// the caller supplying it explicitly every time (§9, SPEC_FULL §5).
func (k *Kt) WithDistinguishedCache(c *DistinguishedCache) *Kt {
	k.distinguished = c
	return k
}

var _ Operations = (*Kt)(nil)

func (k *Kt) send(ctx context.Context, method, path string, body []byte) (*transport.Response, error) {
	resp, err := k.transport.SendUnauthenticated(ctx, transport.Request{Method: method, Path: path, Body: body}, k.chatTimeout)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
