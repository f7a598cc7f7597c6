package events

import (
	"errors"

	"github.com/pliu/chatterbox/internal/store"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrUnauthorized     = errors.New("event identity does not match the connection")
)

// Error codes carried in the "code" field of failed responses.
const (
	CodeConversationNotFound    = "ConversationNotFound"
	CodeNotAMember              = "NotAMember"
	CodeInvalidMembers          = "InvalidMembers"
	CodeInvalidMessageReference = "InvalidMessageReference"
	CodeUnknownEvent            = "UnknownEvent"
	CodeInvalidArguments        = "InvalidArguments"
	CodeStorageUnavailable      = "StorageUnavailable"
	CodeUnauthorized            = "Unauthorized"
	CodeInternal                = "Internal"
	CodeOK                      = "OK"
)

var codes = []struct {
	err  error
	code string
}{
	{store.ErrConversationNotFound, CodeConversationNotFound},
	{store.ErrNotAMember, CodeNotAMember},
	{store.ErrInvalidMembers, CodeInvalidMembers},
	{store.ErrInvalidMessageReference, CodeInvalidMessageReference},
	{store.ErrStorageUnavailable, CodeStorageUnavailable},
	{ErrUnknownEvent, CodeUnknownEvent},
	{ErrInvalidArguments, CodeInvalidArguments},
	{ErrUnauthorized, CodeUnauthorized},
}

// Code classifies err into a wire error code.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// message is the text sent to clients. Storage and internal failures keep
// their details in the server log only.
func message(err error, code string) string {
	switch code {
	case CodeStorageUnavailable:
		return "storage unavailable, retry later"
	case CodeInternal:
		return "internal error"
	}
	return err.Error()
}
