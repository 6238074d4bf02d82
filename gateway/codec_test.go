package gateway

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqPtr(n int64) *int64 { return &n }

func TestCodecRoundTrip(t *testing.T) {
	envelopes := []Envelope{
		{Op: OpDispatch, Seq: seqPtr(42), Event: "MESSAGE_CREATE", Data: json.RawMessage(`{"id":"1234567890123456789","channel_id":"5","content":"hi","tts":false,"flags":0,"embeds":[],"nonce":null}`)},
		{Op: OpHeartbeat, Data: json.RawMessage(`17`)},
		{Op: OpHeartbeat},
		{Op: OpHeartbeatAck},
		{Op: OpHello, Data: json.RawMessage(`{"heartbeat_interval":41250}`)},
		{Op: OpInvalidSession, Data: json.RawMessage(`false`)},
		{Op: OpIdentify, Data: json.RawMessage(`{"token":"t","intents":513,"shard":[0,2],"properties":{"os":"linux","browser":"dgate","device":"dgate"}}`)},
		{Op: OpDispatch, Seq: seqPtr(9007199254740993), Event: "GUILD_UPDATE", Data: json.RawMessage(`{"big":18446744073709551615,"neg":-3,"ratio":1.5}`)},
	}
	for _, codec := range []Codec{JSONCodec{}, BinaryCodec{}} {
		for _, env := range envelopes {
			frame, err := codec.Encode(env)
			require.NoError(t, err, "%s encode %s", codec.Encoding(), env)
			got, err := codec.Decode(frame)
			require.NoError(t, err, "%s decode %s", codec.Encoding(), env)
			assert.Equal(t, env.Op, got.Op, codec.Encoding())
			assert.Equal(t, env.Seq, got.Seq, codec.Encoding())
			assert.Equal(t, env.Event, got.Event, codec.Encoding())
			if env.Data == nil {
				assert.Nil(t, got.Data, "%s %s", codec.Encoding(), env)
			} else {
				assert.JSONEq(t, string(env.Data), string(got.Data), "%s %s", codec.Encoding(), env)
			}
		}
	}
}

func TestBinaryCodecSynonymsAndCoercion(t *testing.T) {
	testCases := []struct {
		name      string
		frame     map[string]any
		wantOp    Opcode
		wantSeq   *int64
		wantEvent string
		wantData  string
	}{
		{
			name:      "short names",
			frame:     map[string]any{"op": 0, "d": map[string]any{"id": "1"}, "s": 3, "t": "READY"},
			wantOp:    OpDispatch,
			wantSeq:   seqPtr(3),
			wantEvent: "READY",
			wantData:  `{"id":"1"}`,
		},
		{
			name:      "long names and an opcode name",
			frame:     map[string]any{"opcode": "dispatch", "data": map[string]any{"id": "1"}, "sequence": "42", "event": []byte("MESSAGE_CREATE")},
			wantOp:    OpDispatch,
			wantSeq:   seqPtr(42),
			wantEvent: "MESSAGE_CREATE",
			wantData:  `{"id":"1"}`,
		},
		{
			name:     "numeric string opcode and null sequence",
			frame:    map[string]any{"opcode": "11", "seq": nil},
			wantOp:   OpHeartbeatAck,
			wantData: "",
		},
		{
			name:      "byte string payload becomes text",
			frame:     map[string]any{"op": "HEARTBEAT_ACK", "type": "X", "data": map[string]any{"name": []byte("general")}},
			wantOp:    OpHeartbeatAck,
			wantEvent: "X",
			wantData:  `{"name":"general"}`,
		},
		{
			name:     "short name wins over its synonym",
			frame:    map[string]any{"op": 1, "opcode": 10, "s": 5, "seq": 6},
			wantOp:   OpHeartbeat,
			wantSeq:  seqPtr(5),
			wantData: "",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := cbor.Marshal(tc.frame)
			require.NoError(t, err)
			env, err := BinaryCodec{}.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.wantOp, env.Op)
			assert.Equal(t, tc.wantSeq, env.Seq)
			assert.Equal(t, tc.wantEvent, env.Event)
			if tc.wantData == "" {
				assert.Nil(t, env.Data)
			} else {
				assert.JSONEq(t, tc.wantData, string(env.Data))
			}
		})
	}
}

func TestCodecUnknownOpcode(t *testing.T) {
	var perr *ProtocolError
	_, err := JSONCodec{}.Decode([]byte(`{"op":42,"d":null}`))
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, 42, perr.Op)

	frame, err := cbor.Marshal(map[string]any{"op": "bogus"})
	require.NoError(t, err)
	_, err = BinaryCodec{}.Decode(frame)
	assert.True(t, errors.As(err, &perr), "got %v", err)

	frame, err = cbor.Marshal(map[string]any{"op": 5})
	require.NoError(t, err)
	_, err = BinaryCodec{}.Decode(frame)
	assert.True(t, errors.As(err, &perr), "got %v", err)
}

func TestCodecMalformed(t *testing.T) {
	jsonFrames := []string{
		`not json`,
		`[1,2,3]`,
		`{"d":{}}`,
		`{"op":"one"}`,
		`{"op":1.5}`,
		`{"op":0,"s":"7"}`,
		`{"op":0,"t":12}`,
	}
	for _, frame := range jsonFrames {
		var derr *DecodeError
		_, err := JSONCodec{}.Decode([]byte(frame))
		assert.True(t, errors.As(err, &derr), "%s: got %v", frame, err)
	}

	badSeq, _ := cbor.Marshal(map[string]any{"op": 0, "s": "seven"})
	badEvent, _ := cbor.Marshal(map[string]any{"op": 0, "t": 3})
	noOp, _ := cbor.Marshal(map[string]any{"d": 1})
	notMap, _ := cbor.Marshal([]int{1, 2})
	for _, frame := range [][]byte{{0xff, 0x00}, badSeq, badEvent, noOp, notMap} {
		var derr *DecodeError
		_, err := BinaryCodec{}.Decode(frame)
		assert.True(t, errors.As(err, &derr), "%x: got %v", frame, err)
	}

	_, err := JSONCodec{}.Encode(Envelope{Op: OpIdentify, Data: json.RawMessage(`{broken`)})
	assert.Error(t, err)
}

func TestDecodeFrameInflatesCompressedFrames(t *testing.T) {
	plain := []byte(`{"op":0,"s":1,"t":"READY","d":{"session_id":"abc"}}`)
	assert.False(t, isZlib(plain))
	binary, err := BinaryCodec{}.Encode(Envelope{Op: OpHello, Data: json.RawMessage(`{"heartbeat_interval":1}`)})
	require.NoError(t, err)
	assert.False(t, isZlib(binary))

	compressed, err := Deflate(plain)
	require.NoError(t, err)
	require.True(t, isZlib(compressed))
	env, err := decodeFrame(JSONCodec{}, compressed)
	require.NoError(t, err)
	assert.Equal(t, "READY", env.Event)
	assert.JSONEq(t, `{"session_id":"abc"}`, string(env.Data))

	compressed, err = Deflate(binary)
	require.NoError(t, err)
	env, err = decodeFrame(BinaryCodec{}, compressed)
	require.NoError(t, err)
	assert.Equal(t, OpHello, env.Op)

	// zlib header with a corrupt body
	var derr *DecodeError
	_, err = decodeFrame(JSONCodec{}, append([]byte{0x78, 0x9c}, []byte("garbage")...))
	assert.True(t, errors.As(err, &derr), "got %v", err)
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("")
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, c.Encoding())
	c, err = CodecFor("cbor")
	require.NoError(t, err)
	assert.Equal(t, EncodingCBOR, c.Encoding())
	_, err = CodecFor("etf")
	assert.Error(t, err)
}

func TestParseOpcode(t *testing.T) {
	for _, name := range []string{"HeartbeatAck", "heartbeat_ack", "HEARTBEAT_ACK", "heartbeat-ack"} {
		op, ok := ParseOpcode(name)
		assert.True(t, ok, name)
		assert.Equal(t, OpHeartbeatAck, op, name)
	}
	_, ok := ParseOpcode("nope")
	assert.False(t, ok)
	assert.Equal(t, "Opcode(5)", Opcode(5).String())
}
