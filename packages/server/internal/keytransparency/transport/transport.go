// Package transport implements the narrow chat-transport contract the KT
// driver depends on (§6.3): send an unauthenticated request, await a
// response, or fail with a typed error. The driver never talks HTTP
// directly; it only knows this interface, so tests can swap in a fake.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
)

// Request is one outbound call to the KT-facing chat server.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Response is a successful transport-level round trip. StatusCode is
// always 2xx; non-2xx responses are converted to kterrors.RequestFailed
// by the transport itself (§6.1).
type Response struct {
	StatusCode int
	Body       []byte
}

// ChatTransport is the capability the driver consumes (§6.3). Must be
// safe for concurrent use (§5).
type ChatTransport interface {
	SendUnauthenticated(ctx context.Context, req Request, timeout time.Duration) (*Response, error)
}

// HTTPTransport is the production ChatTransport, grounded on the
// teacher's outbound HTTP client pattern in internal/auth/oauth.go (a
// plain *http.Client with a per-call Timeout, context-aware requests,
// fmt.Errorf-wrapped failures).
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport builds a transport against baseURL (the KT-facing
// chat server's origin, e.g. "https://chat.signal.org").
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// SendUnauthenticated performs one HTTP round trip. Non-2xx responses
// become kterrors.RequestFailed, carrying a parsed Retry-After when the
// server sent one. Any network-level failure (DNS, TLS, TCP, timeout)
// becomes kterrors.ChatService (§6.3).
func (t *HTTPTransport) SendUnauthenticated(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, t.baseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, kterrors.ChatService(fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, kterrors.ChatService(fmt.Errorf("round trip: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kterrors.ChatService(fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, kterrors.RequestFailed(resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
