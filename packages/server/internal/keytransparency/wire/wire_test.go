package wire

import (
	"bytes"
	"testing"
	"time"
)

func TestTreeHeadEncodeDecodeRoundTrip(t *testing.T) {
	th := &TreeHead{
		TreeSize:  42,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		Signature: []byte{1, 2, 3, 4},
	}
	decoded, err := decodeTreeHead(th.encode())
	if err != nil {
		t.Fatalf("decodeTreeHead: %v", err)
	}
	if decoded.TreeSize != th.TreeSize {
		t.Errorf("tree size: got %d want %d", decoded.TreeSize, th.TreeSize)
	}
	if !decoded.Timestamp.Equal(th.Timestamp) {
		t.Errorf("timestamp: got %v want %v", decoded.Timestamp, th.Timestamp)
	}
	if !bytes.Equal(decoded.Signature, th.Signature) {
		t.Errorf("signature mismatch")
	}
	if len(decoded.AuditorSignature) != 0 {
		t.Errorf("expected no auditor signature, got %x", decoded.AuditorSignature)
	}
}

func TestTreeHeadWithAuditorSignature(t *testing.T) {
	th := &TreeHead{TreeSize: 1, Timestamp: time.Unix(1, 0), Signature: []byte{9}, AuditorSignature: []byte{8, 7}}
	decoded, err := decodeTreeHead(th.encode())
	if err != nil {
		t.Fatalf("decodeTreeHead: %v", err)
	}
	if !bytes.Equal(decoded.AuditorSignature, th.AuditorSignature) {
		t.Errorf("auditor signature mismatch")
	}
}

func TestConsistencyProofEmpty(t *testing.T) {
	var p ConsistencyProof
	if !p.Empty() {
		t.Fatal("zero-value ConsistencyProof must be Empty")
	}
	p.Hashes = append(p.Hashes, []byte{1})
	if p.Empty() {
		t.Fatal("ConsistencyProof with hashes must not be Empty")
	}
}

func TestSearchResponseRoundTrip(t *testing.T) {
	resp := &SearchResponse{
		FullTreeHead: FullTreeHead{
			TreeHead: TreeHead{TreeSize: 10, Timestamp: time.Unix(5, 0), Signature: []byte{1}},
		},
		ACI: CondensedTreeSearchResult{
			Proof:      PrefixSearchProof{VRFProof: []byte{1, 2}, Siblings: [][]byte{{3}, {4}}, Depth: 2},
			Value:      []byte{0x00, 0xAA},
			Commitment: []byte{0xBB},
			Pos:        7,
			Root:       []byte{0xCC, 0xDD},
		},
	}
	decoded, err := DecodeSearchResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodeSearchResponse: %v", err)
	}
	if decoded.ACI.Pos != resp.ACI.Pos {
		t.Errorf("pos mismatch: got %d want %d", decoded.ACI.Pos, resp.ACI.Pos)
	}
	if !bytes.Equal(decoded.ACI.Value, resp.ACI.Value) {
		t.Errorf("value mismatch")
	}
	if decoded.ACI.Proof.Depth != 2 || len(decoded.ACI.Proof.Siblings) != 2 {
		t.Errorf("proof mismatch: %+v", decoded.ACI.Proof)
	}
	if decoded.E164 != nil || decoded.UsernameHash != nil {
		t.Errorf("expected no optional results")
	}
}

func TestSearchResponseMissingACIRejected(t *testing.T) {
	f := &FullTreeHead{TreeHead: TreeHead{TreeSize: 1, Timestamp: time.Unix(1, 0), Signature: []byte{1}}}
	w := newFieldWriter()
	w.putMessageField(1, f.encode())
	if _, err := DecodeSearchResponse(w.bytes()); err == nil {
		t.Fatal("expected missing ACI result to be rejected")
	}
}

func TestSearchResponseMissingTreeHeadRejected(t *testing.T) {
	res := &CondensedTreeSearchResult{Value: []byte{0x00}}
	w := newFieldWriter()
	w.putMessageField(2, res.encode())
	if _, err := DecodeSearchResponse(w.bytes()); err == nil {
		t.Fatal("expected missing tree head to be rejected")
	}
}

func TestEncodeSearchRequestOmitsAbsentOptionals(t *testing.T) {
	body, err := EncodeSearchRequest(SearchRequestParams{
		ACIChatValue:              "aci-value",
		ACIIdentityKey:            []byte{1, 2, 3},
		DistinguishedTreeHeadSize: 9,
	})
	if err != nil {
		t.Fatalf("EncodeSearchRequest: %v", err)
	}
	s := string(body)
	if bytesContains(s, "e164") || bytesContains(s, "usernameHash") || bytesContains(s, "unidentifiedAccessKey") {
		t.Errorf("expected absent optional fields to be omitted entirely, got %s", s)
	}
}

func bytesContains(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}

func TestDistinguishedPathOmitsQueryWhenUnknown(t *testing.T) {
	if got := DistinguishedPath(nil); got != PathDistinguished {
		t.Errorf("expected bare path, got %q", got)
	}
	size := uint64(5)
	if got := DistinguishedPath(&size); got == PathDistinguished {
		t.Errorf("expected query parameter to be present")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	if _, err := DecodeEnvelope(nil); err == nil {
		t.Fatal("expected empty body to fail")
	}
	if _, err := DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected invalid JSON to fail")
	}
	if _, err := DecodeEnvelope([]byte(`{"serializedResponse":"not-base64!!"}`)); err == nil {
		t.Fatal("expected invalid base64 to fail")
	}
}

func TestNormalizeSearchResponseOptionalityMismatch(t *testing.T) {
	resp := &SearchResponse{E164: &CondensedTreeSearchResult{}}
	req := SearchRequestParams{HasE164: false}
	if err := NormalizeSearchResponse(resp, req); err == nil {
		t.Fatal("expected optionality mismatch to be rejected")
	}
}

func TestNormalizeSearchResponseAgreement(t *testing.T) {
	resp := &SearchResponse{}
	req := SearchRequestParams{HasE164: false, HasUsernameHash: false}
	if err := NormalizeSearchResponse(resp, req); err != nil {
		t.Fatalf("expected agreement to pass, got %v", err)
	}
}
