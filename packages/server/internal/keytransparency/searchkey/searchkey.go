// Package searchkey implements the canonical byte encoding of directory
// search keys (§3.1, §4.1) and the orthogonal "chat value" string encoding
// used on the JSON wire. The two encodings must never be mixed: search
// keys are fed to the VRF and the prefix tree, chat values are fed to
// encoding/json.
package searchkey

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Domain-separation prefixes. Each identity kind owns exactly one byte, so
// no two kinds can ever produce colliding search keys.
const (
	prefixACI          byte = 'a'
	prefixE164         byte = 'n'
	prefixUsernameHash byte = 'u'
)

// DistinguishedSearchKey is the literal search key for the distinguished
// canary entry (§4.6). It is not built by ACI.SearchKey or E164.SearchKey
// and carries no prefix byte, since it identifies no user.
const DistinguishedSearchKey = "distinguished"

// ACISize is the length in bytes of a service-id.
const ACISize = 16

// UsernameHashSize is the length in bytes of a username hash.
const UsernameHashSize = 32

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// ACI is a 16-byte service-id, the primary account handle.
type ACI [ACISize]byte

// ParseACI validates and wraps a raw 16-byte service-id.
func ParseACI(raw []byte) (ACI, error) {
	var aci ACI
	if len(raw) != ACISize {
		return aci, fmt.Errorf("searchkey: ACI must be %d bytes, got %d", ACISize, len(raw))
	}
	copy(aci[:], raw)
	return aci, nil
}

// ACIFromUUID derives an ACI from the account's UUID, the representation
// used throughout the teacher's service layer for account identifiers.
func ACIFromUUID(id uuid.UUID) ACI {
	var aci ACI
	copy(aci[:], id[:])
	return aci
}

// SearchKey returns the canonical byte encoding used for VRF evaluation
// and prefix-tree lookups: the domain prefix "a" followed by the raw
// 16 bytes.
func (a ACI) SearchKey() []byte {
	out := make([]byte, 0, 1+ACISize)
	out = append(out, prefixACI)
	out = append(out, a[:]...)
	return out
}

// ChatValue returns the canonical service-id string sent on the JSON wire.
func (a ACI) ChatValue() string {
	return uuid.UUID(a).String()
}

// E164 is a phone number in "+CC..." form.
type E164 string

// ParseE164 validates that s is ASCII decimal digits with a leading "+".
func ParseE164(s string) (E164, error) {
	if !e164Pattern.MatchString(s) {
		return "", fmt.Errorf("searchkey: %q is not a valid E.164 phone number", s)
	}
	return E164(s), nil
}

// SearchKey returns "n" ∥ the ASCII decimal digits (with leading "+").
func (e E164) SearchKey() []byte {
	out := make([]byte, 0, 1+len(e))
	out = append(out, prefixE164)
	out = append(out, []byte(e)...)
	return out
}

// ChatValue returns the same string used as the search key suffix.
func (e E164) ChatValue() string {
	return string(e)
}

// UsernameHash is a 32-byte opaque hash of a chosen username.
type UsernameHash [UsernameHashSize]byte

// ParseUsernameHash validates and wraps a raw 32-byte hash.
func ParseUsernameHash(raw []byte) (UsernameHash, error) {
	var h UsernameHash
	if len(raw) != UsernameHashSize {
		return h, fmt.Errorf("searchkey: username hash must be %d bytes, got %d", UsernameHashSize, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// SearchKey returns "u" ∥ the raw 32 bytes.
func (h UsernameHash) SearchKey() []byte {
	out := make([]byte, 0, 1+UsernameHashSize)
	out = append(out, prefixUsernameHash)
	out = append(out, h[:]...)
	return out
}

// ChatValue returns the URL-safe, unpadded base64 encoding used on the
// wire. Note this differs from SearchKey, which carries raw bytes.
func (h UsernameHash) ChatValue() string {
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// UsernameHashFromChatValue decodes the URL-safe unpadded base64 form back
// into a UsernameHash.
func UsernameHashFromChatValue(s string) (UsernameHash, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return UsernameHash{}, fmt.Errorf("searchkey: invalid username hash encoding: %w", err)
	}
	return ParseUsernameHash(raw)
}
