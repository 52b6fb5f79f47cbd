package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when no authenticated identity was
	// supplied for an operation that requires one.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidParticipants is returned when a conversation id is derived
	// from a pair that is not two distinct users.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrInvalidMessage is returned for a message whose body is empty
	// after trimming, or whose kind is unknown.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrMalformedConversationID is returned when a conversation id does
	// not decompose into exactly two distinct participant ids.
	ErrMalformedConversationID = errors.New("malformed conversation id")

	// ErrForbidden is returned when the caller is not a participant in the
	// targeted conversation or message.
	ErrForbidden = errors.New("forbidden")
)

// RetrievalError wraps a transient store failure during a read. Callers may
// retry the operation; the service never retries internally.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SendError wraps a transient store failure while persisting a message.
// Not retried internally to avoid duplicate sends.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
