package wire

// This file implements the minimal varint / length-delimited framing that
// the rest of this package uses to serialize the typed search/monitor
// response messages the spec calls "protobuf-encoded". There is no
// .proto schema for these condensed wire shapes (field numbers are
// assigned by this package, not generated from one), so full protoc
// codegen doesn't apply here — but google.golang.org/protobuf ships
// encoding/protowire precisely for this: hand-framing protobuf wire bytes
// (tag/varint/length-delimited) without a generated message type. This
// package's fieldWriter/fieldReader are a thin, purpose-named wrapper
// around it.

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

type wireType = protowire.Type

const (
	wireVarint = protowire.VarintType
	wireBytes  = protowire.BytesType
)

type fieldWriter struct {
	buf []byte
}

func newFieldWriter() *fieldWriter { return &fieldWriter{} }

func (w *fieldWriter) putTag(fieldNum int, wt wireType) {
	w.buf = protowire.AppendTag(w.buf, protowire.Number(fieldNum), wt)
}

func (w *fieldWriter) putVarint(v uint64) {
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *fieldWriter) putUint64Field(fieldNum int, v uint64) {
	w.putTag(fieldNum, wireVarint)
	w.putVarint(v)
}

func (w *fieldWriter) putBytesField(fieldNum int, v []byte) {
	w.putTag(fieldNum, wireBytes)
	w.buf = protowire.AppendBytes(w.buf, v)
}

// putMessageField length-delimits an already-encoded sub-message.
func (w *fieldWriter) putMessageField(fieldNum int, encoded []byte) {
	w.putBytesField(fieldNum, encoded)
}

func (w *fieldWriter) bytes() []byte { return w.buf }

type fieldReader struct {
	buf []byte
	pos int
}

func newFieldReader(buf []byte) *fieldReader { return &fieldReader{buf: buf} }

func (r *fieldReader) done() bool { return r.pos >= len(r.buf) }

func (r *fieldReader) readVarint() (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf[r.pos:])
	if n < 0 {
		return 0, errors.New("wire: malformed varint")
	}
	r.pos += n
	return v, nil
}

func (r *fieldReader) readTag() (fieldNum int, wt wireType, err error) {
	num, t, n := protowire.ConsumeTag(r.buf[r.pos:])
	if n < 0 {
		return 0, 0, errors.New("wire: malformed field tag")
	}
	r.pos += n
	return int(num), t, nil
}

func (r *fieldReader) readBytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(r.buf[r.pos:])
	if n < 0 {
		return nil, errors.New("wire: truncated length-delimited field")
	}
	r.pos += n
	return v, nil
}

// skip discards the value of a field whose wire type was already read,
// used when decoding ignores a field number it doesn't recognize.
func (r *fieldReader) skip(wt wireType) error {
	n := protowire.ConsumeFieldValue(0, wt, r.buf[r.pos:])
	if n < 0 {
		return errors.New("wire: unsupported wire type")
	}
	r.pos += n
	return nil
}
