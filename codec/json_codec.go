package codec

import (
	"encoding/json"
)

// JSONCodec encodes Frame with encoding/json. Unlike BinaryCodec it never
// type-asserts v to *Frame: json.Marshal/Unmarshal work on any struct, so
// the same codec value is also what GetCodec hands back for formats other
// than Frame without needing a second implementation.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
