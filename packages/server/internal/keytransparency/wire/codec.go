package wire

import (
	"encoding/base64"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// PathSearch is the KT-facing chat server's search endpoint (§6.1).
	PathSearch = "/v1/key-transparency/search"
	// PathDistinguished is the distinguished-head fetch endpoint.
	PathDistinguished = "/v1/key-transparency/distinguished"
	// PathMonitor is the monitor endpoint.
	PathMonitor = "/v1/key-transparency/monitor"
)

// SearchRequestParams is the semantic content of a search request, built
// by the protocol driver from caller inputs (§4.5).
type SearchRequestParams struct {
	ACISearchKey              []byte
	ACIChatValue              string
	ACIIdentityKey            []byte
	E164ChatValue             string
	UnidentifiedAccessKey     []byte
	UsernameHashChatValue     string
	HasE164                   bool
	HasUsernameHash           bool
	LastTreeHeadSize          *uint64
	DistinguishedTreeHeadSize uint64
}

type searchRequestJSON struct {
	ACI                       string `json:"aci"`
	ACIIdentityKey            string `json:"aciIdentityKey"`
	E164                      string `json:"e164,omitempty"`
	UsernameHash              string `json:"usernameHash,omitempty"`
	UnidentifiedAccessKey     string `json:"unidentifiedAccessKey,omitempty"`
	LastTreeHeadSize          *uint64 `json:"lastTreeHeadSize,omitempty"`
	DistinguishedTreeHeadSize uint64 `json:"distinguishedTreeHeadSize"`
}

// EncodeSearchRequest builds the JSON body for POST /v1/key-transparency/search.
func EncodeSearchRequest(p SearchRequestParams) ([]byte, error) {
	body := searchRequestJSON{
		ACI:                       p.ACIChatValue,
		ACIIdentityKey:            base64.StdEncoding.EncodeToString(p.ACIIdentityKey),
		DistinguishedTreeHeadSize: p.DistinguishedTreeHeadSize,
		LastTreeHeadSize:          p.LastTreeHeadSize,
	}
	if p.HasE164 {
		body.E164 = p.E164ChatValue
		if len(p.UnidentifiedAccessKey) > 0 {
			body.UnidentifiedAccessKey = base64.StdEncoding.EncodeToString(p.UnidentifiedAccessKey)
		}
	}
	if p.HasUsernameHash {
		body.UsernameHash = p.UsernameHashChatValue
	}
	return json.Marshal(body)
}

// DistinguishedPath builds the GET path for the distinguished endpoint,
// omitting the query parameter entirely when lastTreeHeadSize is unknown
// (§4.2).
func DistinguishedPath(lastTreeHeadSize *uint64) string {
	if lastTreeHeadSize == nil {
		return PathDistinguished
	}
	q := url.Values{}
	q.Set("lastTreeHeadSize", strconv.FormatUint(*lastTreeHeadSize, 10))
	return PathDistinguished + "?" + q.Encode()
}

// MonitorKeyParams is one identity's entry in a monitor request (§4.7).
type MonitorKeyParams struct {
	Value           string
	EntryPosition   uint64
	CommitmentIndex []byte
}

type monitorKeyJSON struct {
	Value           string `json:"value"`
	EntryPosition   uint64 `json:"entryPosition"`
	CommitmentIndex string `json:"commitmentIndex"`
}

func (k MonitorKeyParams) toJSON() monitorKeyJSON {
	return monitorKeyJSON{
		Value:           k.Value,
		EntryPosition:   k.EntryPosition,
		CommitmentIndex: base64.RawStdEncoding.EncodeToString(k.CommitmentIndex),
	}
}

// MonitorRequestParams is the semantic content of a monitor request.
type MonitorRequestParams struct {
	ACI                              MonitorKeyParams
	E164                             *MonitorKeyParams
	UsernameHash                     *MonitorKeyParams
	LastNonDistinguishedTreeHeadSize uint64
	LastDistinguishedTreeHeadSize    uint64
}

type monitorRequestJSON struct {
	ACI                              monitorKeyJSON  `json:"aci"`
	E164                             *monitorKeyJSON `json:"e164,omitempty"`
	UsernameHash                     *monitorKeyJSON `json:"usernameHash,omitempty"`
	LastNonDistinguishedTreeHeadSize uint64          `json:"lastNonDistinguishedTreeHeadSize"`
	LastDistinguishedTreeHeadSize    uint64          `json:"lastDistinguishedTreeHeadSize"`
}

// EncodeMonitorRequest builds the JSON body for POST /v1/key-transparency/monitor.
func EncodeMonitorRequest(p MonitorRequestParams) ([]byte, error) {
	body := monitorRequestJSON{
		ACI:                              p.ACI.toJSON(),
		LastNonDistinguishedTreeHeadSize: p.LastNonDistinguishedTreeHeadSize,
		LastDistinguishedTreeHeadSize:    p.LastDistinguishedTreeHeadSize,
	}
	if p.E164 != nil {
		v := p.E164.toJSON()
		body.E164 = &v
	}
	if p.UsernameHash != nil {
		v := p.UsernameHash.toJSON()
		body.UsernameHash = &v
	}
	return json.Marshal(body)
}

type responseEnvelope struct {
	SerializedResponse string `json:"serializedResponse"`
}

// DecodeEnvelope implements the fixed §4.2 decoding order: JSON envelope
// -> base64-no-pad -> raw protobuf-framed bytes. Any failure at any stage
// surfaces a single InvalidResponse with a short literal reason.
func DecodeEnvelope(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, kterrors.InvalidResponse("missing body")
	}
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, kterrors.InvalidResponse("invalid JSON")
	}
	raw, err := base64.RawStdEncoding.DecodeString(env.SerializedResponse)
	if err != nil {
		return nil, kterrors.InvalidResponse("invalid base64")
	}
	return raw, nil
}

// DecodeSearchResponseBody runs the full §4.2 pipeline for a search
// response and returns the parsed message, not yet normalized against a
// request (see NormalizeSearchResponse).
func DecodeSearchResponseBody(body []byte) (*SearchResponse, error) {
	raw, err := DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeSearchResponse(raw)
	if err != nil {
		return nil, kterrors.InvalidResponse("invalid search response protobuf encoding")
	}
	return resp, nil
}

// DecodeMonitorResponseBody runs the full §4.2 pipeline for a monitor
// response.
func DecodeMonitorResponseBody(body []byte) (*MonitorResponse, error) {
	raw, err := DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeMonitorResponse(raw)
	if err != nil {
		return nil, kterrors.InvalidResponse("invalid monitor response protobuf encoding")
	}
	return resp, nil
}

// NormalizeSearchResponse enforces the §4.3 optionality invariants: the
// ACI result is unconditional, and E164/UsernameHash must be present in
// the response iff the request carried them.
func NormalizeSearchResponse(resp *SearchResponse, req SearchRequestParams) error {
	if req.HasE164 != (resp.E164 != nil) {
		return kterrors.InvalidResponse("request/response optionality mismatch")
	}
	if req.HasUsernameHash != (resp.UsernameHash != nil) {
		return kterrors.InvalidResponse("request/response optionality mismatch")
	}
	return nil
}

// NormalizeMonitorResponse enforces the same optionality invariant for a
// monitor response.
func NormalizeMonitorResponse(resp *MonitorResponse, req MonitorRequestParams) error {
	if (req.E164 != nil) != (resp.E164 != nil) {
		return kterrors.InvalidResponse("request/response optionality mismatch")
	}
	if (req.UsernameHash != nil) != (resp.UsernameHash != nil) {
		return kterrors.InvalidResponse("request/response optionality mismatch")
	}
	return nil
}
