package chat

import (
	"strings"

	"github.com/google/uuid"
)

// Conversation ids are derived from the participant pair, never minted.
// The two UUID strings are sorted lexicographically and joined, so
// DeriveConversationID(a, b) == DeriveConversationID(b, a). The prefix keeps
// the result distinguishable from raw entity ids. UUID strings contain no
// underscore, so the separator is unambiguous.
const (
	convIDPrefix    = "conv_"
	convIDSeparator = "_"
)

// DeriveConversationID computes the canonical id for the conversation
// between a and b. A user cannot converse with themself.
func DeriveConversationID(a, b uuid.UUID) (string, error) {
	if a == uuid.Nil || b == uuid.Nil || a == b {
		return "", ErrInvalidParticipants
	}

	lo, hi := a.String(), b.String()
	if lo > hi {
		lo, hi = hi, lo
	}

	return convIDPrefix + lo + convIDSeparator + hi, nil
}

// SplitConversationID recovers the unordered participant pair from a
// canonical conversation id. The returned ids are in canonical (sorted)
// order.
func SplitConversationID(id string) (uuid.UUID, uuid.UUID, error) {
	raw, ok := strings.CutPrefix(id, convIDPrefix)
	if !ok {
		return uuid.Nil, uuid.Nil, ErrMalformedConversationID
	}

	parts := strings.Split(raw, convIDSeparator)
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, ErrMalformedConversationID
	}

	a, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrMalformedConversationID
	}

	b, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrMalformedConversationID
	}

	if a == b || a == uuid.Nil || b == uuid.Nil {
		return uuid.Nil, uuid.Nil, ErrMalformedConversationID
	}

	if a.String() > b.String() {
		a, b = b, a
	}

	return a, b, nil
}
