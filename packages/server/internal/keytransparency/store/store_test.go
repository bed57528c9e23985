package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/kindlyrobotics/nochat/internal/keytransparency/wire"
)

func sampleAccountData() AccountData {
	return AccountData{
		ACI: MonitoringData{
			Index: []byte{1, 2, 3},
			Pos:   5,
			Ptrs:  map[uint64][]byte{5: {9, 9}},
			Owned: true,
		},
		LastTreeHead: LastTreeHead{
			TreeHead: wire.TreeHead{
				TreeSize:  10,
				Timestamp: time.Unix(1000, 0).UTC(),
				Signature: []byte{0xAA},
			},
			Root: []byte{0xBB, 0xCC},
		},
	}
}

func TestAccountDataCloneIsDeep(t *testing.T) {
	a := sampleAccountData()
	clone := a.Clone()

	clone.ACI.Ptrs[5][0] = 0xFF
	if a.ACI.Ptrs[5][0] == 0xFF {
		t.Fatal("Clone must not alias the original's pointer map")
	}

	clone.ACI.Index[0] = 0xFF
	if a.ACI.Index[0] == 0xFF {
		t.Fatal("Clone must not alias the original's index bytes")
	}
}

func TestStoredAccountDataRoundTrip(t *testing.T) {
	a := sampleAccountData()
	e164 := MonitoringData{Index: []byte{4, 5}, Pos: 2, Ptrs: map[uint64][]byte{2: {1}}}
	a.E164 = &e164

	stored := a.ToStored()
	back, err := FromStored(stored)
	if err != nil {
		t.Fatalf("FromStored: %v", err)
	}

	if !bytes.Equal(back.ACI.Index, a.ACI.Index) {
		t.Errorf("ACI index mismatch after round trip")
	}
	if back.ACI.Pos != a.ACI.Pos {
		t.Errorf("ACI pos mismatch after round trip")
	}
	if back.LastTreeHead.TreeHead.TreeSize != a.LastTreeHead.TreeHead.TreeSize {
		t.Errorf("tree size mismatch after round trip")
	}
	if !bytes.Equal(back.LastTreeHead.Root, a.LastTreeHead.Root) {
		t.Errorf("root mismatch after round trip")
	}
	if back.E164 == nil || !bytes.Equal(back.E164.Index, e164.Index) {
		t.Errorf("E164 monitoring data did not survive round trip")
	}
	if back.UsernameHash != nil {
		t.Errorf("expected no username hash data")
	}
}

func TestFromStoredRejectsMalformedIndex(t *testing.T) {
	stored := StoredAccountData{ACI: StoredMonitoringData{Index: "not-base64!!"}}
	if _, err := FromStored(stored); err == nil {
		t.Fatal("expected malformed stored index to be rejected")
	}
}
