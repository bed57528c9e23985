package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
)

func TestHTTPTransportSuccessRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/key-transparency/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	resp, err := tr.SendUnauthenticated(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/v1/key-transparency/search",
		Body:   []byte(`{}`),
	}, time.Second)
	if err != nil {
		t.Fatalf("SendUnauthenticated: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestHTTPTransportNonSuccessBecomesRequestFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	_, err := tr.SendUnauthenticated(context.Background(), Request{Method: http.MethodPost, Path: "/x"}, time.Second)
	if err == nil {
		t.Fatal("expected non-2xx response to fail")
	}
	rf, ok := err.(*kterrors.RequestFailedError)
	if !ok {
		t.Fatalf("expected RequestFailedError, got %T: %v", err, err)
	}
	if rf.StatusCode != http.StatusTooManyRequests {
		t.Errorf("unexpected status code %d", rf.StatusCode)
	}
	if rf.RetryAfter == nil || *rf.RetryAfter != 30*time.Second {
		t.Errorf("unexpected retry-after %v", rf.RetryAfter)
	}
}

func TestHTTPTransportUnreachableServerBecomesChatService(t *testing.T) {
	tr := NewHTTPTransport("http://127.0.0.1:1")
	_, err := tr.SendUnauthenticated(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected unreachable server to fail")
	}
	if _, ok := err.(*kterrors.ChatServiceError); !ok {
		t.Fatalf("expected ChatServiceError, got %T: %v", err, err)
	}
}

func TestWithRawHookObservesEveryCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var observed int
	hooked := WithRawHook(NewHTTPTransport(srv.URL), func(req Request, resp *Response, err error) {
		observed++
		if err != nil {
			t.Errorf("unexpected observed error: %v", err)
		}
		if resp == nil || resp.StatusCode != http.StatusOK {
			t.Errorf("unexpected observed response: %+v", resp)
		}
	})

	if _, err := hooked.SendUnauthenticated(context.Background(), Request{Method: http.MethodGet, Path: "/"}, time.Second); err != nil {
		t.Fatalf("SendUnauthenticated: %v", err)
	}
	if observed != 1 {
		t.Errorf("expected exactly one observed call, got %d", observed)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(2 * time.Minute).UTC()
	got := parseRetryAfter(future.Format(http.TimeFormat))
	if got == nil {
		t.Fatal("expected an HTTP-date Retry-After header to parse")
	}
	if *got <= 0 || *got > 2*time.Minute+time.Second {
		t.Errorf("unexpected parsed duration %v", got)
	}
}

func TestParseRetryAfterEmpty(t *testing.T) {
	if got := parseRetryAfter(""); got != nil {
		t.Errorf("expected empty header to yield nil, got %v", got)
	}
}
