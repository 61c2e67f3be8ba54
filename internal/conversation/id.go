package conversation

import (
	"fmt"
	"strings"

	"medrelay/pkg/types"
)

// Separator joins the two participant ids in a client-built conversation id
const Separator = "-"

// ID names a conversation between exactly two participants
// ARCHITECTURAL DISCOVERY: Clients build the id as "<a>-<b>" in whatever order they like,
// so String() keeps the constructed order while Key() is the order-independent lookup key
type ID struct {
	first  string
	second string
}

// NewID builds an id from two distinct, valid participant ids
func NewID(first, second string) (ID, error) {
	if !types.IsValidUserID(first) || !types.IsValidUserID(second) || first == second {
		return ID{}, fmt.Errorf("%w: participants %q and %q", ErrMalformedConversationID, first, second)
	}
	return ID{first: first, second: second}, nil
}

// ParseID splits a composite id that contains exactly one separator.
// Ids whose participants contain the separator themselves need ParseIDFor.
func ParseID(raw string) (ID, error) {
	parts := strings.Split(raw, Separator)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedConversationID, raw)
	}
	return NewID(parts[0], parts[1])
}

// ParseIDFor splits a composite id anchored on a known participant.
// User ids may contain the separator, so the participant is matched as a whole
// prefix or suffix and the remainder becomes the counterparty.
func ParseIDFor(raw, participant string) (ID, error) {
	if !types.IsValidUserID(participant) {
		return ID{}, fmt.Errorf("%w: participant %q", ErrMalformedConversationID, participant)
	}

	var candidates []ID
	if rest, ok := strings.CutPrefix(raw, participant+Separator); ok {
		if id, err := NewID(participant, rest); err == nil {
			candidates = append(candidates, id)
		}
	}
	if rest, ok := strings.CutSuffix(raw, Separator+participant); ok {
		if id, err := NewID(rest, participant); err == nil {
			candidates = append(candidates, id)
		}
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 2:
		// "a-b-a" style ids name two different counterparties depending on the split
		if candidates[0].Key() == candidates[1].Key() {
			return candidates[0], nil
		}
		return ID{}, fmt.Errorf("%w: %q is ambiguous for %q", ErrMalformedConversationID, raw, participant)
	}

	if _, err := ParseID(raw); err == nil {
		return ID{}, fmt.Errorf("%w: %q in %q", ErrNotParticipant, participant, raw)
	}
	return ID{}, fmt.Errorf("%w: %q", ErrMalformedConversationID, raw)
}

// String returns the id in the order it was constructed
func (id ID) String() string {
	return id.first + Separator + id.second
}

// Key returns the canonical order-independent key; "|" never occurs in a user id
func (id ID) Key() string {
	if id.first < id.second {
		return id.first + "|" + id.second
	}
	return id.second + "|" + id.first
}

// Counterparty returns the other participant
func (id ID) Counterparty(userID string) (string, error) {
	switch userID {
	case id.first:
		return id.second, nil
	case id.second:
		return id.first, nil
	}
	return "", fmt.Errorf("%w: %q in %q", ErrNotParticipant, userID, id.String())
}
