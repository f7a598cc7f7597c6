package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the inbound frame. Args may be a JSON object or, for older
// clients, a JSON string holding the encoded object. ID is an optional
// correlation value echoed back in the response.
type Envelope struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the outbound frame for both replies and pushes.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Name   string          `json:"name"`
	Ok     bool            `json:"ok"`
	Result interface{}     `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Request is a decoded envelope. Name and ID are filled in as far as
// decoding got, so failures can still be correlated.
type Request struct {
	ID      json.RawMessage
	Name    string
	Kind    Kind
	Command Command
}

func Decode(raw []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Request{}, fmt.Errorf("%w: malformed envelope: %v", ErrInvalidArguments, err)
	}

	req := Request{ID: env.ID, Name: env.Name}
	req.Kind = ParseKind(env.Name)
	if req.Kind == KindUnknown {
		return req, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Name)
	}

	args, err := unwrapArgs(env.Args)
	if err != nil {
		return req, err
	}

	cmd := newCommand(req.Kind)
	if err := json.Unmarshal(args, cmd); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := cmd.validate(); err != nil {
		return req, err
	}
	req.Command = cmd
	return req, nil
}

func unwrapArgs(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []byte("{}"), nil
	}
	if raw[0] != '"' {
		return raw, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if b := bytes.TrimSpace([]byte(s)); len(b) > 0 {
		return b, nil
	}
	return []byte("{}"), nil
}

// Success encodes the reply to req.
func Success(req Request, result interface{}) ([]byte, error) {
	return json.Marshal(Response{
		ID:     req.ID,
		Name:   req.Name,
		Ok:     true,
		Result: result,
	})
}

// Failure encodes the error reply to req.
func Failure(req Request, err error) []byte {
	code := Code(err)
	b, merr := json.Marshal(Response{
		ID:    req.ID,
		Name:  req.Name,
		Error: &ErrorBody{Code: code, Message: message(err, code)},
	})
	if merr != nil {
		// Only a broken correlation id can fail here; drop it.
		b, _ = json.Marshal(Response{
			Name:  req.Name,
			Error: &ErrorBody{Code: code, Message: message(err, code)},
		})
	}
	return b
}

// Push encodes an unsolicited notification.
func Push(name string, result interface{}) ([]byte, error) {
	return json.Marshal(Response{Name: name, Ok: true, Result: result})
}
