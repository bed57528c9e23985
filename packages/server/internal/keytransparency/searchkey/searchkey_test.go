package searchkey

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestACISearchKeyPrefix(t *testing.T) {
	aci := ACIFromUUID(uuid.New())
	key := aci.SearchKey()
	if key[0] != prefixACI {
		t.Fatalf("expected prefix %q, got %q", prefixACI, key[0])
	}
	if len(key) != 1+ACISize {
		t.Fatalf("expected length %d, got %d", 1+ACISize, len(key))
	}
}

func TestACISearchKeyDeterministic(t *testing.T) {
	aci := ACIFromUUID(uuid.New())
	if !bytes.Equal(aci.SearchKey(), aci.SearchKey()) {
		t.Fatal("search key must be a pure function of identity")
	}
}

func TestE164SearchKey(t *testing.T) {
	e164, err := ParseE164("+14155551234")
	if err != nil {
		t.Fatalf("ParseE164: %v", err)
	}
	key := e164.SearchKey()
	if key[0] != prefixE164 {
		t.Fatalf("expected prefix %q, got %q", prefixE164, key[0])
	}
	if string(key[1:]) != "+14155551234" {
		t.Fatalf("unexpected search key payload: %q", key[1:])
	}
	if e164.ChatValue() != "+14155551234" {
		t.Fatalf("unexpected chat value: %q", e164.ChatValue())
	}
}

func TestE164RejectsMalformed(t *testing.T) {
	cases := []string{"", "14155551234", "+0123", "+abc"}
	for _, c := range cases {
		if _, err := ParseE164(c); err == nil {
			t.Errorf("expected ParseE164(%q) to fail", c)
		}
	}
}

func TestUsernameHashRoundTrip(t *testing.T) {
	var raw [UsernameHashSize]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	h, err := ParseUsernameHash(raw[:])
	if err != nil {
		t.Fatalf("ParseUsernameHash: %v", err)
	}
	if h.SearchKey()[0] != prefixUsernameHash {
		t.Fatalf("expected prefix %q, got %q", prefixUsernameHash, h.SearchKey()[0])
	}

	chatValue := h.ChatValue()
	back, err := UsernameHashFromChatValue(chatValue)
	if err != nil {
		t.Fatalf("UsernameHashFromChatValue: %v", err)
	}
	if back != h {
		t.Fatal("username hash did not round-trip through its chat-value encoding")
	}
}

func TestDisjointSearchKeyPrefixes(t *testing.T) {
	prefixes := map[byte]bool{prefixACI: true, prefixE164: true, prefixUsernameHash: true}
	if len(prefixes) != 3 {
		t.Fatal("search-key prefixes must be pairwise distinct")
	}
}
