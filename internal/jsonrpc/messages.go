package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// MessageType classifies a decoded wire message.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResponse     MessageType = "response"
)

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
// It is the substrate-independent wire envelope: transports only ever carry
// the encoded form of this type, framed per their own rules.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. Exactly one of Result or Error is
// set.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewRequest builds a JSON-RPC request with the given correlation ID. Params
// may be any JSON-marshalable value or nil.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}
	return &Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         method,
		Params:         raw,
		ID:             id,
	}, nil
}

// NewNotification builds a JSON-RPC notification (a request with no ID and
// therefore no expected reply).
func NewNotification(method string, params any) (*Request, error) {
	return NewRequest(nil, method, params)
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// validate enforces JSON-RPC 2.0 structural rules on a raw envelope. The
// returned error feeds the UnknownVariant decode classification: the payload
// was well-formed JSON but is not a message shape we recognize.
func (m *AnyMessage) validate() error {
	if m.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, m.JSONRPCVersion)
	}

	hasMethod := m.Method != ""
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return fmt.Errorf("request message cannot have result or error fields")
		}
		return nil
	}

	if hasResult && hasError {
		return fmt.Errorf("response message cannot have both result and error fields")
	}
	if !hasResult && !hasError {
		return fmt.Errorf("response message must have either result or error field")
	}
	return nil
}

// Type classifies the message as a request, notification, or response.
func (m *AnyMessage) Type() MessageType {
	if m.Method != "" {
		if m.ID.IsNil() {
			return MessageTypeNotification
		}
		return MessageTypeRequest
	}
	return MessageTypeResponse
}

// AsRequest returns the message as a Request if it is a request or
// notification, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}

	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse returns the message as a Response if it is a response message,
// otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}

// AnyFromRequest wraps a Request in the generic envelope.
func AnyFromRequest(req *Request) *AnyMessage {
	return &AnyMessage{
		JSONRPCVersion: req.JSONRPCVersion,
		Method:         req.Method,
		Params:         req.Params,
		ID:             req.ID,
	}
}

// AnyFromResponse wraps a Response in the generic envelope.
func AnyFromResponse(res *Response) *AnyMessage {
	return &AnyMessage{
		JSONRPCVersion: res.JSONRPCVersion,
		Result:         res.Result,
		Error:          res.Error,
		ID:             res.ID,
	}
}
