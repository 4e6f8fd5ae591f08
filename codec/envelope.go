package codec

import (
	"encoding/json"

	"sl4a-rpc/message"
	"sl4a-rpc/rpcerror"

	"github.com/nuclio/errors"
)

// EncodeRequest renders {"id":id,"method":method,"params":[...]}. A nil params slice is
// sent as an empty array. Failures are *rpcerror.EncodingError.
func EncodeRequest(c Codec, id int64, method string, params []any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}

	line, err := c.Encode(&message.Request{
		ID:     id,
		Method: method,
		Params: params,
	})
	if err != nil {
		return nil, &rpcerror.EncodingError{Method: method, Err: err}
	}

	return line, nil
}

// EncodeRegistration renders {"event":event,"id":id}
func EncodeRegistration(c Codec, registration *message.CallbackRegistration) ([]byte, error) {
	line, err := c.Encode(registration)
	if err != nil {
		return nil, &rpcerror.EncodingError{Method: registration.Event, Err: err}
	}

	return line, nil
}

// EncodeInvocation renders {"id":id,"data":data}
func EncodeInvocation(c Codec, id int, data any) ([]byte, error) {
	line, err := c.Encode(struct {
		ID   int `json:"id"`
		Data any `json:"data"`
	}{id, data})
	if err != nil {
		return nil, &rpcerror.EncodingError{Err: err}
	}

	return line, nil
}

// DecodeResponse parses one line as a response envelope. Missing "result" and "error"
// members decode as null and a missing "id" is tolerated; a line that is not a JSON
// object, or whose "id" is not an integer, is a *rpcerror.DecodingError.
func DecodeResponse(c Codec, line []byte) (*message.Response, error) {
	members, err := decodeMembers(c, line)
	if err != nil {
		return nil, err
	}

	return responseFromMembers(line, members)
}

// DecodeInbound parses one facade → client line and classifies it. The line is a
// callback invocation iff it has a "data" member and neither "result" nor "error".
func DecodeInbound(c Codec, line []byte) (*message.Inbound, error) {
	members, err := decodeMembers(c, line)
	if err != nil {
		return nil, err
	}

	_, hasData := members["data"]
	_, hasResult := members["result"]
	_, hasError := members["error"]

	if hasData && !hasResult && !hasError {
		var id *int
		if err := json.Unmarshal(members["id"], &id); err != nil || id == nil {
			return nil, &rpcerror.DecodingError{Line: line, Err: errors.New("Callback invocation without an integer id")}
		}

		return &message.Inbound{
			Kind: message.KindCallback,
			Callback: &message.CallbackInvocation{
				ID:   *id,
				Data: members["data"],
			},
		}, nil
	}

	response, err := responseFromMembers(line, members)
	if err != nil {
		return nil, err
	}

	return &message.Inbound{
		Kind:     message.KindResponse,
		Response: response,
	}, nil
}

// DecodeRawRequest parses one client → facade request line
func DecodeRawRequest(c Codec, line []byte) (*message.RawRequest, error) {
	var request message.RawRequest
	if err := c.Decode(line, &request); err != nil {
		return nil, &rpcerror.DecodingError{Line: line, Err: err}
	}

	if request.Method == "" {
		return nil, &rpcerror.DecodingError{Line: line, Err: errors.New("Request without a method")}
	}

	return &request, nil
}

// DecodeOutbound parses one client → facade line. A line with an "event" member is a
// callback registration notice; anything else must be a request.
func DecodeOutbound(c Codec, line []byte) (*message.Outbound, error) {
	members, err := decodeMembers(c, line)
	if err != nil {
		return nil, err
	}

	if _, hasEvent := members["event"]; !hasEvent {
		request, err := DecodeRawRequest(c, line)
		if err != nil {
			return nil, err
		}

		return &message.Outbound{Request: request}, nil
	}

	var registration message.CallbackRegistration
	if err := c.Decode(line, &registration); err != nil {
		return nil, &rpcerror.DecodingError{Line: line, Err: err}
	}

	return &message.Outbound{Registration: &registration}, nil
}

// EncodeResponse renders {"id":id,"result":result,"error":failure}. Pass a nil failure
// for success and a nil result for failure; both serialize as null.
func EncodeResponse(c Codec, id int64, result any, failure any) ([]byte, error) {
	line, err := c.Encode(struct {
		ID     int64 `json:"id"`
		Result any   `json:"result"`
		Error  any   `json:"error"`
	}{id, result, failure})
	if err != nil {
		return nil, &rpcerror.EncodingError{Err: err}
	}

	return line, nil
}

// Result applies the dispatch rule: a non-null error becomes a *rpcerror.RemoteError,
// otherwise the result is returned (JSON null when absent).
func Result(method string, response *message.Response) (json.RawMessage, error) {
	if response.Failed() {
		return nil, &rpcerror.RemoteError{Method: method, Payload: response.Error}
	}

	if message.IsNull(response.Result) {
		return json.RawMessage("null"), nil
	}

	return response.Result, nil
}

func decodeMembers(c Codec, line []byte) (map[string]json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := c.Decode(line, &members); err != nil {
		return nil, &rpcerror.DecodingError{Line: line, Err: err}
	}

	// "null" unmarshals into a nil map without error
	if members == nil {
		return nil, &rpcerror.DecodingError{Line: line, Err: errors.New("Envelope is not a JSON object")}
	}

	return members, nil
}

func responseFromMembers(line []byte, members map[string]json.RawMessage) (*message.Response, error) {
	response := &message.Response{
		Result: members["result"],
		Error:  members["error"],
	}

	if rawID, found := members["id"]; found && !message.IsNull(rawID) {
		var id int64
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, &rpcerror.DecodingError{Line: line, Err: errors.Wrap(err, "Response id is not an integer")}
		}
		response.ID = &id
	}

	return response, nil
}
