// Package message defines the envelopes exchanged with the automation facade.
//
// Every envelope travels as one JSON object on one line:
//
//	client → facade   {"id":1,"method":"makeToast","params":["hello"]}     Request
//	facade → client   {"id":1,"result":null,"error":null}                  Response
//	client → facade   {"event":"battery","id":0}                           CallbackRegistration
//	facade → client   {"id":0,"data":{"level":42}}                         CallbackInvocation
//
// A response and a callback invocation share the "id" member, so an inbound line is
// classified by its other members: it is a callback invocation iff it carries "data"
// and carries neither "result" nor "error".
package message

import (
	"bytes"
	"encoding/json"
)

// Reserved method names understood by the facade.
const (
	MethodAuthenticate = "_authenticate"
	MethodDismiss      = "dismiss"
)

// Request carries one RPC call. Params are positional and sent in call order.
type Request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// RawRequest is the facade-side view of a Request, with params left undecoded so each
// handler can unmarshal them into its own types.
type RawRequest struct {
	ID     int64             `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// Response carries the outcome of one Request.
//
//   - ID echoes the request id; nil when the facade omitted it.
//   - Result holds the returned value (JSON null when the method returns nothing).
//   - Error is JSON null on success, otherwise the facade's error payload.
type Response struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Failed reports whether the response carries a non-null error payload.
func (r *Response) Failed() bool {
	return !IsNull(r.Error)
}

// CallbackRegistration tells the facade how to address a locally registered handler.
type CallbackRegistration struct {
	Event string `json:"event"`
	ID    int    `json:"id"`
}

// CallbackInvocation is pushed by the facade to run the handler registered under ID.
type CallbackInvocation struct {
	ID   int             `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Kind tells apart the two inbound envelope shapes.
type Kind int

const (
	KindResponse Kind = iota
	KindCallback
)

func (k Kind) String() string {
	if k == KindCallback {
		return "callback"
	}
	return "response"
}

// Inbound is one decoded facade → client line. Exactly one of Response and Callback is
// set, according to Kind.
type Inbound struct {
	Kind     Kind
	Response *Response
	Callback *CallbackInvocation
}

// Outbound is one decoded client → facade line: either a Request or a
// CallbackRegistration, never both.
type Outbound struct {
	Request      *RawRequest
	Registration *CallbackRegistration
}

var null = []byte("null")

// IsNull reports whether raw is absent or the JSON literal null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, null)
}
