package transport

import (
	"context"
	"time"
)

// RawObserver is invoked with the raw request/response bytes of every
// transport round trip, success or failure. Supplementing the spec's
// distilled scope, this mirrors the original client's raw request/response
// capture hook (original_source/rust/net/src/keytrans.rs), used in tests
// to assert exact wire bytes without re-deriving them from typed request
// params.
type RawObserver func(req Request, resp *Response, err error)

// rawHookTransport wraps a ChatTransport and reports every round trip to
// an observer. It never alters the underlying transport's behavior.
type rawHookTransport struct {
	inner    ChatTransport
	observer RawObserver
}

// WithRawHook returns a ChatTransport that calls observer around every
// call to inner, for test instrumentation.
func WithRawHook(inner ChatTransport, observer RawObserver) ChatTransport {
	return &rawHookTransport{inner: inner, observer: observer}
}

func (t *rawHookTransport) SendUnauthenticated(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	resp, err := t.inner.SendUnauthenticated(ctx, req, timeout)
	t.observer(req, resp, err)
	return resp, err
}
