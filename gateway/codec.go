package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Codec converts between wire frames and envelopes. Implementations are stateless and safe for
// concurrent use.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	Decode(frame []byte) (Envelope, error)
	// Encoding is the value of the encoding query parameter used when connecting.
	Encoding() string
	// MessageType is the WebSocket message type frames are written with.
	MessageType() int
}

// CodecFor returns the codec for an encoding name. The empty name selects JSON.
func CodecFor(encoding string) (Codec, error) {
	switch encoding {
	case "", EncodingJSON:
		return JSONCodec{}, nil
	case EncodingCBOR:
		return BinaryCodec{}, nil
	}
	return nil, fmt.Errorf("gateway: unsupported encoding %q", encoding)
}

const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// JSONCodec is the textual encoding. Only the envelope fields are parsed, the data is passed through.
type JSONCodec struct{}

func (JSONCodec) Encoding() string { return EncodingJSON }

func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) Decode(frame []byte) (Envelope, error) {
	fail := func(format string, args ...any) (Envelope, error) {
		return Envelope{}, &DecodeError{Encoding: EncodingJSON, Err: fmt.Errorf(format, args...)}
	}
	if !gjson.ValidBytes(frame) {
		return fail("invalid JSON")
	}
	if !gjson.ParseBytes(frame).IsObject() {
		return fail("frame is not an object")
	}
	fields := gjson.GetManyBytes(frame, "op", "s", "t", "d")
	opField, seqField, eventField, dataField := fields[0], fields[1], fields[2], fields[3]

	if opField.Type != gjson.Number {
		return fail("op is missing or not a number")
	}
	op, err := strconv.Atoi(opField.Raw)
	if err != nil {
		return fail("op %s is not an integer", opField.Raw)
	}
	env := Envelope{Op: Opcode(op)}

	switch seqField.Type {
	case gjson.Null:
	case gjson.Number:
		seq, err := strconv.ParseInt(seqField.Raw, 10, 64)
		if err != nil {
			return fail("s %s is not an integer", seqField.Raw)
		}
		env.Seq = &seq
	default:
		return fail("s has type %s", seqField.Type)
	}

	switch eventField.Type {
	case gjson.Null:
	case gjson.String:
		env.Event = eventField.Str
	default:
		return fail("t has type %s", eventField.Type)
	}

	if dataField.Exists() && dataField.Type != gjson.Null {
		env.Data = json.RawMessage(dataField.Raw)
	}
	if !env.Op.Valid() {
		return env, &ProtocolError{Op: op}
	}
	return env, nil
}

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	frame := []byte(`{"op":` + strconv.Itoa(int(env.Op)) + `}`)
	data := []byte(env.Data)
	if len(data) == 0 {
		data = []byte("null")
	} else if !gjson.ValidBytes(data) {
		return nil, errors.New("gateway: envelope data is not valid JSON")
	}
	frame, err := sjson.SetRawBytes(frame, "d", data)
	if err != nil {
		return nil, err
	}
	if env.Seq != nil {
		if frame, err = sjson.SetBytes(frame, "s", *env.Seq); err != nil {
			return nil, err
		}
	}
	if env.Event != "" {
		if frame, err = sjson.SetBytes(frame, "t", env.Event); err != nil {
			return nil, err
		}
	}
	return frame, nil
}
