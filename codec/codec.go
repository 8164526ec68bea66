// Package codec converts between packets and their wire bytes.
//
// The wire layout is one event tag byte, one data tag byte, then the payload
// serialized according to the data type. The codec does no I/O and holds no
// state; framing is the concern of the framing package.
package codec

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/tcplite/types"
)

// HeaderSize is the number of tag bytes preceding the payload.
const HeaderSize = 2

// Encode serializes a packet into header and payload bytes.
func Encode(pkt *types.Packet) ([]byte, error) {
	if pkt == nil {
		return nil, &Error{Kind: ErrorEncoding, Msg: "nil packet"}
	}
	if !pkt.Event.Valid() {
		return nil, &Error{Kind: ErrorEncoding, Msg: fmt.Sprintf("undefined event type 0x%02x", uint8(pkt.Event))}
	}

	body, err := encodePayload(pkt.Data, pkt.Payload)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0] = byte(pkt.Event)
	buf[1] = byte(pkt.Data)
	copy(buf[HeaderSize:], body)
	return buf, nil
}

func encodePayload(dt types.DataType, payload any) ([]byte, error) {
	switch dt {
	case types.DataRaw:
		switch v := payload.(type) {
		case nil:
			return nil, nil
		case []byte:
			return v, nil
		case json.RawMessage:
			return v, nil
		default:
			return nil, &Error{Kind: ErrorEncoding, Msg: fmt.Sprintf("raw payload must be []byte, got %T", payload)}
		}

	case types.DataText:
		var b []byte
		switch v := payload.(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			return nil, &Error{Kind: ErrorEncoding, Msg: fmt.Sprintf("text payload must be string, got %T", payload)}
		}
		if !utf8.Valid(b) {
			return nil, &Error{Kind: ErrorEncoding, Msg: "text payload is not valid UTF-8"}
		}
		return b, nil

	case types.DataJSON:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: ErrorEncoding, Msg: "marshal json payload", Err: err}
		}
		return b, nil

	case types.DataObject:
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: ErrorEncoding, Msg: "marshal object payload", Err: err}
		}
		return b, nil

	default:
		return nil, &Error{Kind: ErrorEncoding, Msg: fmt.Sprintf("undefined data type 0x%02x", uint8(dt))}
	}
}

// Decode parses one frame into a packet.
//
// Errors:
//   - ErrFrameTooShort: fewer than HeaderSize bytes
//   - ErrUnknownEventType, ErrUnknownDataType: undefined tag (event checked first)
//   - ErrPayloadDecode: payload is not valid for its data type
func Decode(frame []byte) (*types.Packet, error) {
	event, err := PeekEventType(frame)
	if err != nil {
		return nil, err
	}

	dt := types.DataType(frame[1])
	if !dt.Valid() {
		return nil, &Error{Kind: ErrorUnknownDataType, Msg: fmt.Sprintf("unknown data type 0x%02x", frame[1])}
	}

	payload, err := decodePayload(dt, frame[HeaderSize:])
	if err != nil {
		return nil, err
	}

	return &types.Packet{Event: event, Data: dt, Payload: payload}, nil
}

// PeekEventType validates the header length and event tag without touching
// the payload.
func PeekEventType(frame []byte) (types.EventType, error) {
	if len(frame) < HeaderSize {
		return 0, &Error{
			Kind: ErrorFrameTooShort,
			Msg:  fmt.Sprintf("frame too short: %d bytes (need at least %d)", len(frame), HeaderSize),
		}
	}
	event := types.EventType(frame[0])
	if !event.Valid() {
		return 0, &Error{Kind: ErrorUnknownEventType, Msg: fmt.Sprintf("unknown event type 0x%02x", frame[0])}
	}
	return event, nil
}

func decodePayload(dt types.DataType, raw []byte) (any, error) {
	switch dt {
	case types.DataRaw:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil

	case types.DataText:
		if !utf8.Valid(raw) {
			return nil, &Error{Kind: ErrorPayloadDecode, Msg: "text payload is not valid UTF-8"}
		}
		return string(raw), nil

	case types.DataJSON:
		if !utf8.Valid(raw) {
			return nil, &Error{Kind: ErrorPayloadDecode, Msg: "json payload is not valid UTF-8"}
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, &Error{Kind: ErrorPayloadDecode, Msg: "unmarshal json payload", Err: err}
		}
		return v, nil

	case types.DataObject:
		var v any
		if err := msgpack.Unmarshal(raw, &v); err != nil {
			return nil, &Error{Kind: ErrorPayloadDecode, Msg: "unmarshal object payload", Err: err}
		}
		return v, nil
	}

	return nil, &Error{Kind: ErrorUnknownDataType, Msg: fmt.Sprintf("unknown data type 0x%02x", uint8(dt))}
}
