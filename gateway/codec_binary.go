package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gateway: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		// nested maps must be usable with encoding/json
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("gateway: CBOR decoder initialization failed: " + err.Error())
	}
}

type envelopeField int

const (
	fieldOp envelopeField = iota
	fieldData
	fieldSeq
	fieldEvent
)

// envelopeFieldNames lists the accepted names for each envelope field, in order of preference.
var envelopeFieldNames = []struct {
	field envelopeField
	names []string
}{
	{fieldOp, []string{"op", "opcode"}},
	{fieldData, []string{"d", "data"}},
	{fieldSeq, []string{"s", "seq", "sequence"}},
	{fieldEvent, []string{"t", "event", "type"}},
}

// BinaryCodec is the compact tagged binary encoding (CBOR). Field names are resolved through
// envelopeFieldNames and values are coerced when the sender used a different representation, e.g.
// the opcode as a name or the sequence as a string.
type BinaryCodec struct{}

func (BinaryCodec) Encoding() string { return EncodingCBOR }

func (BinaryCodec) MessageType() int { return websocket.BinaryMessage }

func (BinaryCodec) Decode(frame []byte) (Envelope, error) {
	fail := func(err error) (Envelope, error) {
		return Envelope{}, &DecodeError{Encoding: EncodingCBOR, Err: err}
	}
	var raw map[any]any
	if err := cborDecMode.Unmarshal(frame, &raw); err != nil {
		return fail(err)
	}
	if raw == nil {
		return fail(errors.New("frame is not a map"))
	}
	fields := make(map[envelopeField]any, 4)
	for _, f := range envelopeFieldNames {
		for _, name := range f.names {
			if v, ok := lookupKey(raw, name); ok {
				fields[f.field] = v
				break
			}
		}
	}

	opValue, ok := fields[fieldOp]
	if !ok {
		return fail(errors.New("op is missing"))
	}
	op, err := coerceOpcode(opValue)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return Envelope{}, perr
		}
		return fail(err)
	}
	env := Envelope{Op: op}
	if env.Seq, err = coerceSeq(fields[fieldSeq]); err != nil {
		return fail(err)
	}
	if env.Event, err = coerceEvent(fields[fieldEvent]); err != nil {
		return fail(err)
	}
	if data := fields[fieldData]; data != nil {
		normalized, err := normalize(data)
		if err != nil {
			return fail(fmt.Errorf("d: %w", err))
		}
		if env.Data, err = json.Marshal(normalized); err != nil {
			return fail(fmt.Errorf("d: %w", err))
		}
	}
	if !env.Op.Valid() {
		return env, &ProtocolError{Op: int(env.Op)}
	}
	return env, nil
}

func (BinaryCodec) Encode(env Envelope) ([]byte, error) {
	frame := map[string]any{
		"op": int(env.Op),
		"d":  nil,
	}
	if len(env.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Data))
		dec.UseNumber()
		var data any
		if err := dec.Decode(&data); err != nil {
			return nil, fmt.Errorf("gateway: envelope data is not valid JSON: %w", err)
		}
		frame["d"] = denumber(data)
	}
	if env.Seq != nil {
		frame["s"] = *env.Seq
	}
	if env.Event != "" {
		frame["t"] = env.Event
	}
	return cborEncMode.Marshal(frame)
}

// lookupKey finds name among text or byte string keys.
func lookupKey(m map[any]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if b, ok := k.(cbor.ByteString); ok && string(b) == name {
			return v, true
		}
	}
	return nil, false
}

func coerceOpcode(v any) (Opcode, error) {
	switch x := v.(type) {
	case uint64:
		if x > math.MaxInt32 {
			return 0, &ProtocolError{Op: -1, Reason: "opcode out of range"}
		}
		return Opcode(x), nil
	case int64:
		if x < 0 || x > math.MaxInt32 {
			return 0, &ProtocolError{Op: -1, Reason: "opcode out of range"}
		}
		return Opcode(x), nil
	case string:
		return opcodeFromString(x)
	case []byte:
		return opcodeFromString(string(x))
	case nil:
		return 0, errors.New("op is null")
	}
	return 0, fmt.Errorf("op has unsupported type %T", v)
}

func opcodeFromString(s string) (Opcode, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return Opcode(n), nil
	}
	if op, ok := ParseOpcode(s); ok {
		return op, nil
	}
	return 0, &ProtocolError{Op: -1, Reason: fmt.Sprintf("unknown opcode name %q", s)}
}

func coerceSeq(v any) (*int64, error) {
	var seq int64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("s %d overflows int64", x)
		}
		seq = int64(x)
	case int64:
		seq = x
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("s %q is not an integer", x)
		}
		seq = n
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("s %q is not an integer", x)
		}
		seq = n
	default:
		return nil, fmt.Errorf("s has unsupported type %T", v)
	}
	return &seq, nil
}

func coerceEvent(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return "", fmt.Errorf("t has unsupported type %T", v)
}

// normalize converts a decoded CBOR value into one encoding/json can marshal. Byte strings become
// text, integers keep their exact value.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, uint64, int64, float32, float64:
		return x, nil
	case []byte:
		return string(x), nil
	case big.Int:
		return &x, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			var key string
			switch kk := k.(type) {
			case string:
				key = kk
			case cbor.ByteString:
				key = string(kk)
			case uint64, int64:
				key = fmt.Sprint(kk)
			default:
				return nil, fmt.Errorf("unsupported map key type %T", k)
			}
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// denumber turns json.Number values into integers where they are integral so they are encoded as
// CBOR integers rather than floats.
func denumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return string(x)
	case map[string]any:
		for k, val := range x {
			x[k] = denumber(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = denumber(val)
		}
		return x
	}
	return v
}
