package conversation

import "errors"

var (
	ErrMalformedConversationID = errors.New("malformed conversation id")
	ErrNotParticipant          = errors.New("not a participant in this conversation")
)
