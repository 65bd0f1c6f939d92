package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCodec(t *testing.T) {
	json := GetCodec(CodecTypeJSON)
	_, ok := json.(*JSONCodec)
	require.True(t, ok)
	assert.Equal(t, CodecTypeJSON, json.Type())

	bin := GetCodec(CodecTypeBinary)
	_, ok = bin.(*BinaryCodec)
	require.True(t, ok)
	assert.Equal(t, CodecTypeBinary, bin.Type())
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := &JSONCodec{}
	frame := &Frame{Target: "widgets.create", ID: "abc", Payload: []byte(`{"n":1}`)}

	data, err := c.Encode(frame)
	require.NoError(t, err)

	var out Frame
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, *frame, out)
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	c := &BinaryCodec{}
	cases := []*Frame{
		{Target: "widgets.create", ID: "abc", Payload: []byte(`{"n":1}`)},
		{Target: "widgets.get", ID: "xyz", ErrFlag: true, ErrText: "not found"},
		{Target: "", ID: "", Payload: nil},
	}

	for _, frame := range cases {
		data, err := c.Encode(frame)
		require.NoError(t, err)

		var out Frame
		require.NoError(t, c.Decode(data, &out))
		assert.Equal(t, frame.Target, out.Target)
		assert.Equal(t, frame.ID, out.ID)
		assert.Equal(t, frame.ErrFlag, out.ErrFlag)
		assert.Equal(t, frame.ErrText, out.ErrText)
		if len(frame.Payload) == 0 {
			assert.Empty(t, out.Payload)
		} else {
			assert.Equal(t, frame.Payload, out.Payload)
		}
	}
}

func TestBinaryCodecRejectsWrongType(t *testing.T) {
	c := &BinaryCodec{}
	_, err := c.Encode("not a frame")
	require.Error(t, err)

	err = c.Decode([]byte{}, "not a frame")
	require.Error(t, err)
}
