// Package store defines the in-memory account state the KT core reads and
// produces (§3.2, §3.4, §6.4): MonitoringData, LastTreeHead, AccountData,
// and their mapping to/from the caller-persisted StoredAccountData form.
// The core never mutates a caller's AccountData in place; every update
// returns a fresh copy.
package store

import (
	"encoding/base64"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/kterrors"
	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

// LastTreeHead pairs a signed tree head with the 32-byte root it commits
// to (§3.2).
type LastTreeHead struct {
	TreeHead wire.TreeHead
	Root     []byte
}

// MonitoringData is per-identity state remembered between searches to
// detect silent rewrites (§3.2). Ptrs maps a log entry position to the
// commitment seed observed for that entry, so a later monitor call can
// request proofs against previously-known log positions only.
type MonitoringData struct {
	Index []byte // VRF output, 32 bytes
	Pos   uint64
	Ptrs  map[uint64][]byte
	Owned bool
}

// clone returns a deep copy so that updates never alias the caller's map.
func (m MonitoringData) clone() MonitoringData {
	out := MonitoringData{
		Index: append([]byte(nil), m.Index...),
		Pos:   m.Pos,
		Owned: m.Owned,
	}
	if m.Ptrs != nil {
		out.Ptrs = make(map[uint64][]byte, len(m.Ptrs))
		for k, v := range m.Ptrs {
			out.Ptrs[k] = append([]byte(nil), v...)
		}
	}
	return out
}

// AccountData is the full client-side verification state for one
// account: the ACI's monitoring data is always present; E164 and
// UsernameHash are present only once the caller has searched for them
// (§3.2).
type AccountData struct {
	ACI          MonitoringData
	E164         *MonitoringData
	UsernameHash *MonitoringData
	LastTreeHead LastTreeHead
}

// Clone returns a deep copy of a, so callers (and the core itself) never
// share mutable state between an old and updated AccountData (§3.4).
func (a AccountData) Clone() AccountData {
	out := AccountData{
		ACI: a.ACI.clone(),
		LastTreeHead: LastTreeHead{
			TreeHead: a.LastTreeHead.TreeHead,
			Root:     append([]byte(nil), a.LastTreeHead.Root...),
		},
	}
	if a.E164 != nil {
		v := a.E164.clone()
		out.E164 = &v
	}
	if a.UsernameHash != nil {
		v := a.UsernameHash.clone()
		out.UsernameHash = &v
	}
	return out
}

// StoredMonitoringData is the base64-friendly wire shape of
// MonitoringData for protobuf-free persistence by the caller (§6.4).
type StoredMonitoringData struct {
	Index string          `json:"index"`
	Pos   uint64          `json:"pos"`
	Ptrs  map[string]string `json:"ptrs"`
	Owned bool            `json:"owned"`
}

// StoredTreeHead is the persisted form of LastTreeHead.
type StoredTreeHead struct {
	TreeSize  uint64 `json:"treeSize"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Root      string `json:"root"`
}

// StoredAccountData is the persisted form of AccountData (§6.4); the core
// only converts to/from it, the caller owns the actual byte-level
// persistence (database row, file, etc).
type StoredAccountData struct {
	ACI          StoredMonitoringData  `json:"aci"`
	E164         *StoredMonitoringData `json:"e164,omitempty"`
	UsernameHash *StoredMonitoringData `json:"usernameHash,omitempty"`
	LastTreeHead StoredTreeHead        `json:"lastTreeHead"`
}

func toStoredMonitoringData(m MonitoringData) StoredMonitoringData {
	ptrs := make(map[string]string, len(m.Ptrs))
	for pos, seed := range m.Ptrs {
		ptrs[base64.RawStdEncoding.EncodeToString(posBytes(pos))] = base64.RawStdEncoding.EncodeToString(seed)
	}
	return StoredMonitoringData{
		Index: base64.RawStdEncoding.EncodeToString(m.Index),
		Pos:   m.Pos,
		Ptrs:  ptrs,
		Owned: m.Owned,
	}
}

func fromStoredMonitoringData(s StoredMonitoringData) (MonitoringData, error) {
	index, err := base64.RawStdEncoding.DecodeString(s.Index)
	if err != nil {
		return MonitoringData{}, kterrors.InvalidResponse("malformed stored monitoring index")
	}
	ptrs := make(map[uint64][]byte, len(s.Ptrs))
	for posKey, seedKey := range s.Ptrs {
		posRaw, err := base64.RawStdEncoding.DecodeString(posKey)
		if err != nil {
			return MonitoringData{}, kterrors.InvalidResponse("malformed stored monitoring pointer key")
		}
		seed, err := base64.RawStdEncoding.DecodeString(seedKey)
		if err != nil {
			return MonitoringData{}, kterrors.InvalidResponse("malformed stored monitoring pointer value")
		}
		ptrs[posFromBytes(posRaw)] = seed
	}
	return MonitoringData{Index: index, Pos: s.Pos, Ptrs: ptrs, Owned: s.Owned}, nil
}

// ToStored converts an in-memory AccountData to its persisted form.
func (a AccountData) ToStored() StoredAccountData {
	out := StoredAccountData{
		ACI: toStoredMonitoringData(a.ACI),
		LastTreeHead: StoredTreeHead{
			TreeSize:  a.LastTreeHead.TreeHead.TreeSize,
			Timestamp: a.LastTreeHead.TreeHead.Timestamp.Unix(),
			Signature: base64.RawStdEncoding.EncodeToString(a.LastTreeHead.TreeHead.Signature),
			Root:      base64.RawStdEncoding.EncodeToString(a.LastTreeHead.Root),
		},
	}
	if a.E164 != nil {
		v := toStoredMonitoringData(*a.E164)
		out.E164 = &v
	}
	if a.UsernameHash != nil {
		v := toStoredMonitoringData(*a.UsernameHash)
		out.UsernameHash = &v
	}
	return out
}

// FromStored reconstructs an in-memory AccountData from its persisted
// form, failing with InvalidResponse if the stored bytes are malformed
// (the core treats its own caller's store as untrusted input, same as a
// network response).
func FromStored(s StoredAccountData) (AccountData, error) {
	aci, err := fromStoredMonitoringData(s.ACI)
	if err != nil {
		return AccountData{}, err
	}
	sig, err := base64.RawStdEncoding.DecodeString(s.LastTreeHead.Signature)
	if err != nil {
		return AccountData{}, kterrors.InvalidResponse("malformed stored tree head signature")
	}
	root, err := base64.RawStdEncoding.DecodeString(s.LastTreeHead.Root)
	if err != nil {
		return AccountData{}, kterrors.InvalidResponse("malformed stored tree head root")
	}
	out := AccountData{
		ACI: aci,
		LastTreeHead: LastTreeHead{
			TreeHead: wire.TreeHead{
				TreeSize: s.LastTreeHead.TreeSize,
				Signature: sig,
			},
			Root: root,
		},
	}
	out.LastTreeHead.TreeHead.Timestamp = unixTime(s.LastTreeHead.Timestamp)
	if s.E164 != nil {
		v, err := fromStoredMonitoringData(*s.E164)
		if err != nil {
			return AccountData{}, err
		}
		out.E164 = &v
	}
	if s.UsernameHash != nil {
		v, err := fromStoredMonitoringData(*s.UsernameHash)
		if err != nil {
			return AccountData{}, err
		}
		out.UsernameHash = &v
	}
	return out, nil
}
