package transport

import (
	"context"
	"testing"
	"time"
)

func TestRetryAfterCacheNilClientIsNoOp(t *testing.T) {
	c := NewRetryAfterCache(nil)
	c.Set(context.Background(), "/v1/key-transparency/search", time.Minute)
	if c.Blocked(context.Background(), "/v1/key-transparency/search") {
		t.Fatal("expected a nil-backed cache to never report Blocked")
	}
}
