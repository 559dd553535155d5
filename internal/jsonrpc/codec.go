package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// DecodeKind classifies why a payload failed to decode.
type DecodeKind int

const (
	// DecodeMalformed indicates the payload was empty or not valid JSON.
	DecodeMalformed DecodeKind = iota
	// DecodeUnknownVariant indicates the payload was well-formed JSON but is
	// not a recognizable JSON-RPC 2.0 message shape.
	DecodeUnknownVariant
)

func (k DecodeKind) String() string {
	switch k {
	case DecodeMalformed:
		return "malformed"
	case DecodeUnknownVariant:
		return "unknown_variant"
	default:
		return fmt.Sprintf("decode_kind(%d)", int(k))
	}
}

// DecodeError reports a payload that could not be decoded into a message.
// Callers drop the offending payload; a decode failure never tears down the
// connection it arrived on.
type DecodeError struct {
	Kind DecodeKind
	err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.err)
}

func (e *DecodeError) Unwrap() error {
	return e.err
}

// Encode serializes a message into its substrate-independent wire form.
// Framing (how one encoded message is delimited from the next) is the
// transport's concern, never the codec's.
func Encode(m *AnyMessage) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode nil message")
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return json.Marshal(m)
}

// Decode parses one framed payload into a message. Unknown additional fields
// are ignored for forward compatibility; missing required fields are a hard
// failure. Failures are always a *DecodeError whose Kind distinguishes
// garbage bytes from well-formed-but-unrecognized shapes.
func Decode(data []byte) (*AnyMessage, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Kind: DecodeMalformed, err: fmt.Errorf("empty payload")}
	}
	if !json.Valid(data) {
		return nil, &DecodeError{Kind: DecodeMalformed, err: fmt.Errorf("invalid JSON")}
	}

	var m AnyMessage
	if err := json.Unmarshal(data, &m); err != nil {
		// The payload is valid JSON, so any unmarshal failure here means the
		// shape does not match the envelope (wrong member types, non-object
		// top level).
		return nil, &DecodeError{Kind: DecodeUnknownVariant, err: err}
	}
	if err := m.validate(); err != nil {
		return nil, &DecodeError{Kind: DecodeUnknownVariant, err: err}
	}
	return &m, nil
}
