package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	SubprotocolJSON        = "aero-signal.v1.json"
	SubprotocolMessagePack = "aero-signal.v1.msgpack"
)

// Subprotocols lists the WebSocket subprotocols the relay accepts, in order
// of server preference.
var Subprotocols = []string{SubprotocolMessagePack, SubprotocolJSON}

// Codec converts between WebSocket frames and the relay's JSON object model.
//
// Inbound frames are normalized to JSON so that message validation is done
// once, by the strict JSON parser in the signaling package.
type Codec interface {
	Subprotocol() string
	// FrameType is the gorilla/websocket message type used for outbound frames.
	FrameType() int
	Encode(ev Event) ([]byte, error)
	DecodeToJSON(frameType int, frame []byte) ([]byte, error)
}

var (
	JSON        Codec = jsonCodec{}
	MessagePack Codec = msgpackCodec{}
)

var ErrUnexpectedFrameType = errors.New("unexpected frame type")

// ForSubprotocol returns the codec negotiated for a connection. An empty or
// unknown subprotocol falls back to JSON.
func ForSubprotocol(name string) Codec {
	if name == SubprotocolMessagePack {
		return MessagePack
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Subprotocol() string { return SubprotocolJSON }
func (jsonCodec) FrameType() int      { return websocket.TextMessage }

func (jsonCodec) Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (jsonCodec) DecodeToJSON(frameType int, frame []byte) ([]byte, error) {
	if frameType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: expected text frame", ErrUnexpectedFrameType)
	}
	return frame, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Subprotocol() string { return SubprotocolMessagePack }
func (msgpackCodec) FrameType() int      { return websocket.BinaryMessage }

func (msgpackCodec) Encode(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(fromJSONValue(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) DecodeToJSON(frameType int, frame []byte) ([]byte, error) {
	if frameType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: expected binary frame", ErrUnexpectedFrameType)
	}
	r := bytes.NewReader(frame)
	var v any
	if err := msgpack.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid msgpack: %w", err)
	}
	if r.Len() != 0 {
		return nil, errors.New("unexpected trailing data")
	}
	jv, err := toJSONValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jv)
}

// ErrInvalidUTF8 is returned for msgpack str or bin values that JSON cannot
// carry byte for byte.
var ErrInvalidUTF8 = errors.New("msgpack value is not valid UTF-8")

// fromJSONValue turns json.Number into the narrowest msgpack number that
// holds it exactly. Only non-integers (and integers beyond uint64) become
// float64.
func fromJSONValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = fromJSONValue(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = fromJSONValue(e)
		}
		return x
	default:
		return v
	}
}

// toJSONValue rewrites msgpack-decoded values into shapes encoding/json can
// marshal: string-keyed maps, and bin as text when it is valid UTF-8. Bytes
// JSON would replace with U+FFFD are rejected instead.
func toJSONValue(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if !utf8.ValidString(x) {
			return nil, ErrInvalidUTF8
		}
		return x, nil
	case []byte:
		if !utf8.Valid(x) {
			return nil, ErrInvalidUTF8
		}
		return string(x), nil
	case map[string]any:
		for k, e := range x {
			if !utf8.ValidString(k) {
				return nil, ErrInvalidUTF8
			}
			jv, err := toJSONValue(e)
			if err != nil {
				return nil, err
			}
			x[k] = jv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			key := fmt.Sprint(k)
			if !utf8.ValidString(key) {
				return nil, ErrInvalidUTF8
			}
			jv, err := toJSONValue(e)
			if err != nil {
				return nil, err
			}
			out[key] = jv
		}
		return out, nil
	case []any:
		for i, e := range x {
			jv, err := toJSONValue(e)
			if err != nil {
				return nil, err
			}
			x[i] = jv
		}
		return x, nil
	default:
		return v, nil
	}
}
