package codec

import (
	"encoding/binary"
	"errors"
)

// Frame is the generic envelope BinaryCodec serializes. tcprpc maps its
// request/response wire shapes onto Frame's four fields rather than
// hand-rolling a binary layout per message kind.
type Frame struct {
	Target  string // request: "apiName.procedureName"; response: unused
	ID      string // request/result correlation id (return path)
	Payload []byte // JSON-encoded kwargs (request) or result (response)
	ErrFlag bool
	ErrText string
}

// BinaryCodec implements a custom binary serialization for Frame.
//
// Binary format:
//
//	┌────────────┬────────────┬─────────┬───────┬──────────────┬─────────┬────────┬────────────┬───────┐
//	│TargetLen(2)│   Target   │IDLen(2) │  ID   │PayloadLen(4) │ Payload │ErrFlag │ ErrLen(2)  │ ErrText│
//	└────────────┴────────────┴─────────┴───────┴──────────────┴─────────┴────────┴────────────┴───────┘
//
// The payload itself is still JSON-encoded; the gain comes from encoding the
// envelope fields in binary instead of JSON, avoiding field-name overhead.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *Frame")
	}

	total := 2 + len(f.Target) + 2 + len(f.ID) + 4 + len(f.Payload) + 1 + 2 + len(f.ErrText)
	buf := make([]byte, total)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(f.Target)))
	offset += 2
	copy(buf[offset:offset+len(f.Target)], f.Target)
	offset += len(f.Target)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(f.ID)))
	offset += 2
	copy(buf[offset:offset+len(f.ID)], f.ID)
	offset += len(f.ID)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(f.Payload)))
	offset += 4
	copy(buf[offset:offset+len(f.Payload)], f.Payload)
	offset += len(f.Payload)

	if f.ErrFlag {
		buf[offset] = 1
	}
	offset++

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(f.ErrText)))
	offset += 2
	copy(buf[offset:offset+len(f.ErrText)], f.ErrText)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return errors.New("BinaryCodec: v must be *Frame")
	}

	offset := 0

	targetLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	f.Target = string(data[offset : offset+int(targetLen)])
	offset += int(targetLen)

	idLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	f.ID = string(data[offset : offset+int(idLen)])
	offset += int(idLen)

	payloadLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, data[offset:offset+int(payloadLen)])
	offset += int(payloadLen)

	f.ErrFlag = data[offset] == 1
	offset++

	errLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	f.ErrText = string(data[offset : offset+int(errLen)])

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
