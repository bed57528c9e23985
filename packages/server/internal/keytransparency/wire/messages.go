package wire

import (
	"errors"
	"time"
)

// TreeHead is the signed root of the append-only log tree at a given size
// (§3.2). AuditorSignature is only present in third-party-auditing mode.
type TreeHead struct {
	TreeSize         uint64
	Timestamp        time.Time
	Signature        []byte
	AuditorSignature []byte
}

func (t *TreeHead) encode() []byte {
	w := newFieldWriter()
	w.putUint64Field(1, t.TreeSize)
	w.putUint64Field(2, uint64(t.Timestamp.Unix()))
	w.putBytesField(3, t.Signature)
	if len(t.AuditorSignature) > 0 {
		w.putBytesField(4, t.AuditorSignature)
	}
	return w.bytes()
}

func decodeTreeHead(buf []byte) (*TreeHead, error) {
	t := &TreeHead{}
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			t.TreeSize = v
		case 2:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			t.Timestamp = time.Unix(int64(v), 0).UTC()
		case 3:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			t.Signature = append([]byte(nil), b...)
		case 4:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			t.AuditorSignature = append([]byte(nil), b...)
		default:
			if err := r.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// ConsistencyProof is the ordered list of sibling hashes proving that a
// later tree head extends an earlier one. An empty proof is valid only
// when the corresponding reference head is absent (§3.2).
type ConsistencyProof struct {
	Hashes [][]byte
}

// Empty reports whether the proof carries no hashes.
func (p ConsistencyProof) Empty() bool { return len(p.Hashes) == 0 }

func (p *ConsistencyProof) encode() []byte {
	w := newFieldWriter()
	for _, h := range p.Hashes {
		w.putBytesField(1, h)
	}
	return w.bytes()
}

func decodeConsistencyProof(buf []byte) (ConsistencyProof, error) {
	var p ConsistencyProof
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return p, err
		}
		if num == 1 {
			b, err := r.readBytes()
			if err != nil {
				return p, err
			}
			p.Hashes = append(p.Hashes, append([]byte(nil), b...))
		} else if err := r.skip(wt); err != nil {
			return p, err
		}
	}
	return p, nil
}

// FullTreeHead is a TreeHead plus consistency proofs to the caller's prior
// "last" head and to the shared "distinguished" head (§3.2).
type FullTreeHead struct {
	TreeHead      TreeHead
	Last          ConsistencyProof
	Distinguished ConsistencyProof
}

func (f *FullTreeHead) encode() []byte {
	w := newFieldWriter()
	w.putMessageField(1, f.TreeHead.encode())
	if !f.Last.Empty() {
		w.putMessageField(2, f.Last.encode())
	}
	if !f.Distinguished.Empty() {
		w.putMessageField(3, f.Distinguished.encode())
	}
	return w.bytes()
}

func decodeFullTreeHead(buf []byte) (*FullTreeHead, error) {
	f := &FullTreeHead{}
	var sawTreeHead bool
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			th, err := decodeTreeHead(b)
			if err != nil {
				return nil, err
			}
			f.TreeHead = *th
			sawTreeHead = true
		case 2:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodeConsistencyProof(b)
			if err != nil {
				return nil, err
			}
			f.Last = p
		case 3:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodeConsistencyProof(b)
			if err != nil {
				return nil, err
			}
			f.Distinguished = p
		default:
			if err := r.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	if !sawTreeHead {
		return nil, errors.New("wire: missing tree head")
	}
	return f, nil
}

// PrefixSearchProof is the VRF proof plus prefix-tree sibling path binding
// a search key to a leaf value (§4.4, §6.2).
type PrefixSearchProof struct {
	VRFProof []byte
	Siblings [][]byte
	Depth    uint32
}

func (p *PrefixSearchProof) encode() []byte {
	w := newFieldWriter()
	w.putBytesField(1, p.VRFProof)
	for _, s := range p.Siblings {
		w.putBytesField(2, s)
	}
	w.putUint64Field(3, uint64(p.Depth))
	return w.bytes()
}

func decodePrefixSearchProof(buf []byte) (*PrefixSearchProof, error) {
	p := &PrefixSearchProof{}
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p.VRFProof = append([]byte(nil), b...)
		case 2:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p.Siblings = append(p.Siblings, append([]byte(nil), b...))
		case 3:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			p.Depth = uint32(v)
		default:
			if err := r.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// CondensedTreeSearchResult is one identity's portion of a search response:
// the prefix-tree proof, the version-prefixed leaf value (§3.3), the
// commitment seed used for later monitoring, and the leaf's log position.
type CondensedTreeSearchResult struct {
	Proof      PrefixSearchProof
	Value      []byte
	Commitment []byte
	Pos        uint64
	Root       []byte
}

func (r *CondensedTreeSearchResult) encode() []byte {
	w := newFieldWriter()
	w.putMessageField(1, r.Proof.encode())
	w.putBytesField(2, r.Value)
	w.putBytesField(3, r.Commitment)
	w.putUint64Field(4, r.Pos)
	w.putBytesField(5, r.Root)
	return w.bytes()
}

func decodeCondensedTreeSearchResult(buf []byte) (*CondensedTreeSearchResult, error) {
	out := &CondensedTreeSearchResult{}
	fr := newFieldReader(buf)
	for !fr.done() {
		num, wt, err := fr.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			b, err := fr.readBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodePrefixSearchProof(b)
			if err != nil {
				return nil, err
			}
			out.Proof = *p
		case 2:
			b, err := fr.readBytes()
			if err != nil {
				return nil, err
			}
			out.Value = append([]byte(nil), b...)
		case 3:
			b, err := fr.readBytes()
			if err != nil {
				return nil, err
			}
			out.Commitment = append([]byte(nil), b...)
		case 4:
			v, err := fr.readVarint()
			if err != nil {
				return nil, err
			}
			out.Pos = v
		case 5:
			b, err := fr.readBytes()
			if err != nil {
				return nil, err
			}
			out.Root = append([]byte(nil), b...)
		default:
			if err := fr.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// SearchResponse is the normalized form of a /v1/key-transparency/search
// response: the tree head plus up to three per-identity results. ACI is
// mandatory; E164/UsernameHash are present iff the request carried them
// (§4.3).
type SearchResponse struct {
	FullTreeHead FullTreeHead
	ACI          CondensedTreeSearchResult
	E164         *CondensedTreeSearchResult
	UsernameHash *CondensedTreeSearchResult
}

// Encode serializes the response using this package's hand-framed
// tag/length wire format (see protowire.go).
func (s *SearchResponse) Encode() []byte {
	w := newFieldWriter()
	w.putMessageField(1, s.FullTreeHead.encode())
	w.putMessageField(2, s.ACI.encode())
	if s.E164 != nil {
		w.putMessageField(3, s.E164.encode())
	}
	if s.UsernameHash != nil {
		w.putMessageField(4, s.UsernameHash.encode())
	}
	return w.bytes()
}

// DecodeSearchResponse parses the raw payload produced by Encode. It does
// not enforce optionality matching against a request; that is the
// codec's job (§4.3).
func DecodeSearchResponse(buf []byte) (*SearchResponse, error) {
	out := &SearchResponse{}
	var sawTreeHead, sawACI bool
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			f, err := decodeFullTreeHead(b)
			if err != nil {
				return nil, err
			}
			out.FullTreeHead = *f
			sawTreeHead = true
		case 2:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			res, err := decodeCondensedTreeSearchResult(b)
			if err != nil {
				return nil, err
			}
			out.ACI = *res
			sawACI = true
		case 3:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			res, err := decodeCondensedTreeSearchResult(b)
			if err != nil {
				return nil, err
			}
			out.E164 = res
		case 4:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			res, err := decodeCondensedTreeSearchResult(b)
			if err != nil {
				return nil, err
			}
			out.UsernameHash = res
		default:
			if err := r.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	if !sawTreeHead {
		return nil, errors.New("wire: missing tree head")
	}
	if !sawACI {
		return nil, errors.New("wire: missing aci search result")
	}
	return out, nil
}

// MonitorProof proves that a previously-observed entry at Pos has (or has
// not) changed, as of the current tree head.
type MonitorProof struct {
	Pos        uint64
	Siblings   [][]byte
	Value      []byte
	Commitment []byte
	Root       []byte
}

func (m *MonitorProof) encode() []byte {
	w := newFieldWriter()
	w.putUint64Field(1, m.Pos)
	for _, s := range m.Siblings {
		w.putBytesField(2, s)
	}
	w.putBytesField(3, m.Value)
	w.putBytesField(4, m.Commitment)
	w.putBytesField(5, m.Root)
	return w.bytes()
}

func decodeMonitorProof(buf []byte) (*MonitorProof, error) {
	out := &MonitorProof{}
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			out.Pos = v
		case 2:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			out.Siblings = append(out.Siblings, append([]byte(nil), b...))
		case 3:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			out.Value = append([]byte(nil), b...)
		case 4:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			out.Commitment = append([]byte(nil), b...)
		case 5:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			out.Root = append([]byte(nil), b...)
		default:
			if err := r.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// MonitorResponse is the normalized form of a /v1/key-transparency/monitor
// response.
type MonitorResponse struct {
	FullTreeHead FullTreeHead
	ACI          MonitorProof
	E164         *MonitorProof
	UsernameHash *MonitorProof
}

// Encode serializes the response using this package's wire format.
func (m *MonitorResponse) Encode() []byte {
	w := newFieldWriter()
	w.putMessageField(1, m.FullTreeHead.encode())
	w.putMessageField(2, m.ACI.encode())
	if m.E164 != nil {
		w.putMessageField(3, m.E164.encode())
	}
	if m.UsernameHash != nil {
		w.putMessageField(4, m.UsernameHash.encode())
	}
	return w.bytes()
}

// DecodeMonitorResponse parses the raw payload produced by Encode.
func DecodeMonitorResponse(buf []byte) (*MonitorResponse, error) {
	out := &MonitorResponse{}
	var sawTreeHead, sawACI bool
	r := newFieldReader(buf)
	for !r.done() {
		num, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			f, err := decodeFullTreeHead(b)
			if err != nil {
				return nil, err
			}
			out.FullTreeHead = *f
			sawTreeHead = true
		case 2:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodeMonitorProof(b)
			if err != nil {
				return nil, err
			}
			out.ACI = *p
			sawACI = true
		case 3:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodeMonitorProof(b)
			if err != nil {
				return nil, err
			}
			out.E164 = p
		case 4:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			p, err := decodeMonitorProof(b)
			if err != nil {
				return nil, err
			}
			out.UsernameHash = p
		default:
			if err := r.skip(wt); err != nil {
				return nil, err
			}
		}
	}
	if !sawTreeHead {
		return nil, errors.New("wire: missing tree head")
	}
	if !sawACI {
		return nil, errors.New("wire: missing aci monitor proof")
	}
	return out, nil
}
