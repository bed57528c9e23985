package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/primitives"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/searchkey"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/store"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/transport"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/verify"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// fakeTransport is an in-memory ChatTransport stand-in: every test wires
// up exactly the responses it needs, keyed by request path, so the
// driver can be exercised without a real chat server (§6.3 is a narrow
// interface precisely so tests can do this).
type fakeTransport struct {
	responses map[string]*transport.Response
	err       error
}

func (f *fakeTransport) SendUnauthenticated(ctx context.Context, req transport.Request, timeout time.Duration) (*transport.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[req.Path]
	if !ok {
		for path, r := range f.responses {
			if len(req.Path) >= len(path) && req.Path[:len(path)] == path {
				return r, nil
			}
		}
		return nil, kterrors.ChatService(bytesErr("no fake response registered for " + req.Path))
	}
	return resp, nil
}

type bytesErr string

func (e bytesErr) Error() string { return string(e) }

func envelope(raw []byte) []byte {
	body, _ := json.Marshal(struct {
		SerializedResponse string `json:"serializedResponse"`
	}{SerializedResponse: base64.RawStdEncoding.EncodeToString(raw)})
	return body
}

func hashLeaf(commitment, value []byte) []byte {
	h := sha256.New()
	h.Write(commitment)
	h.Write(value)
	return h.Sum(nil)
}

func getBit(data []byte, index int) int {
	byteIndex := index / 8
	bitIndex := 7 - (index % 8)
	return int((data[byteIndex] >> bitIndex) & 1)
}

func signedMessage(treeSize uint64, root []byte, ts int64) []byte {
	data := make([]byte, 8+len(root)+8)
	for i := 0; i < 8; i++ {
		data[7-i] = byte(treeSize)
		treeSize >>= 8
	}
	copy(data[8:8+len(root)], root)
	u := uint64(ts)
	for i := 0; i < 8; i++ {
		data[8+len(root)+7-i] = byte(u)
		u >>= 8
	}
	return data
}

// clientFixture wires a complete, independently-verifiable search
// response for one ACI with no e164/username-hash, plus the PublicConfig
// that verifies it.
type clientFixture struct {
	cfg       primitives.PublicConfig
	aci       searchkey.ACI
	searchKey []byte
	value     []byte
	result    wire.CondensedTreeSearchResult
	treeSize  uint64
	ts        time.Time
	sig       []byte
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()
	sigPub, sigPriv, _ := ed25519.GenerateKey(nil)
	vrfPub, vrfPriv, _ := ed25519.GenerateKey(nil)

	cfg := primitives.PublicConfig{
		Mode:               primitives.ModeDirect,
		SignatureAlgorithm: primitives.AlgorithmEd25519,
		SignatureEd25519:   sigPub,
		VRFPublicKey:       vrfPub,
	}

	var rawACI [16]byte
	rawACI[0] = 0x42
	aci, err := searchkey.ParseACI(rawACI[:])
	if err != nil {
		t.Fatalf("ParseACI: %v", err)
	}
	searchKeyBytes := aci.SearchKey()

	_, proof, err := primitives.Evaluate(vrfPriv, searchKeyBytes)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	output, err := primitives.DeriveVRFOutput(vrfPub, searchKeyBytes, proof)
	if err != nil {
		t.Fatalf("DeriveVRFOutput: %v", err)
	}

	identityKey := make([]byte, verify.IdentityKeySize)
	identityKey[0] = 0x07
	value := append([]byte{0x00}, identityKey...)
	commitment := []byte("fixture-commitment-seed")
	sibling := []byte("fixture-sibling-hash-0000000000")

	leaf := hashLeaf(commitment, value)
	var root []byte
	if getBit(output, 0) == 0 {
		root = hashLeafCombine(leaf, sibling)
	} else {
		root = hashLeafCombine(sibling, leaf)
	}

	result := wire.CondensedTreeSearchResult{
		Proof:      wire.PrefixSearchProof{VRFProof: proof, Siblings: [][]byte{sibling}, Depth: 1},
		Value:      value,
		Commitment: commitment,
		Pos:        1,
		Root:       root,
	}

	ts := time.Unix(1_700_000_100, 0).UTC()
	sig := ed25519.Sign(sigPriv, signedMessage(7, root, ts.Unix()))

	return &clientFixture{
		cfg:       cfg,
		aci:       aci,
		searchKey: searchKeyBytes,
		value:     identityKey,
		result:    result,
		treeSize:  7,
		ts:        ts,
		sig:       sig,
	}
}

func hashLeafCombine(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func TestSearchSuccess(t *testing.T) {
	f := newClientFixture(t)
	resp := &wire.SearchResponse{
		FullTreeHead: wire.FullTreeHead{
			TreeHead: wire.TreeHead{TreeSize: f.treeSize, Timestamp: f.ts, Signature: f.sig},
		},
		ACI: f.result,
	}

	tr := &fakeTransport{responses: map[string]*transport.Response{
		wire.PathSearch: {StatusCode: 200, Body: envelope(resp.Encode())},
	}}

	k := New(tr, f.cfg, time.Second)
	out, err := k.Search(context.Background(), SearchInput{
		ACI:            f.aci,
		ACIIdentityKey: []byte("caller-supplied-identity-key"),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !bytes.Equal(out.ACIIdentityKey, f.value) {
		t.Errorf("identity key mismatch: got %x want %x", out.ACIIdentityKey, f.value)
	}
	if out.UpdatedAccountData.LastTreeHead.TreeHead.TreeSize != f.treeSize {
		t.Errorf("unexpected updated tree size %d", out.UpdatedAccountData.LastTreeHead.TreeHead.TreeSize)
	}
}

func TestSearchTransportFailurePropagates(t *testing.T) {
	f := newClientFixture(t)
	tr := &fakeTransport{err: kterrors.RequestFailed(503, nil)}
	k := New(tr, f.cfg, time.Second)
	_, err := k.Search(context.Background(), SearchInput{ACI: f.aci})
	if err == nil {
		t.Fatal("expected transport failure to propagate")
	}
	if _, ok := err.(*kterrors.RequestFailedError); !ok {
		t.Fatalf("expected RequestFailedError, got %T: %v", err, err)
	}
}

func TestMonitorRejectsMissingE164MonitoringData(t *testing.T) {
	f := newClientFixture(t)
	k := New(&fakeTransport{}, f.cfg, time.Second)

	e164, err := searchkey.ParseE164("+15555550123")
	if err != nil {
		t.Fatalf("ParseE164: %v", err)
	}
	_, err = k.Monitor(context.Background(), MonitorInput{
		ACI:  f.aci,
		E164: &e164,
		AccountData: store.AccountData{
			ACI: store.MonitoringData{Pos: 1},
		},
	})
	if err == nil {
		t.Fatal("expected missing E164 monitoring data to be rejected")
	}
	if _, ok := err.(*kterrors.InvalidRequestError); !ok {
		t.Fatalf("expected InvalidRequestError, got %T: %v", err, err)
	}
}

func TestUnavailableReturnsErrNoEnvironment(t *testing.T) {
	k := Unavailable()
	if _, err := k.Search(context.Background(), SearchInput{}); err != kterrors.ErrNoEnvironment {
		t.Errorf("Search: expected ErrNoEnvironment, got %v", err)
	}
	if _, err := k.Distinguished(context.Background(), nil); err != kterrors.ErrNoEnvironment {
		t.Errorf("Distinguished: expected ErrNoEnvironment, got %v", err)
	}
	if _, err := k.Monitor(context.Background(), MonitorInput{}); err != kterrors.ErrNoEnvironment {
		t.Errorf("Monitor: expected ErrNoEnvironment, got %v", err)
	}
}
