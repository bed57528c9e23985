package store

import (
	"encoding/binary"
	"time"
)

func posBytes(pos uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, pos)
	return buf
}

func posFromBytes(buf []byte) uint64 {
	padded := make([]byte, 8)
	copy(padded[8-len(buf):], buf)
	return binary.BigEndian.Uint64(padded)
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
