package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("you are sending too fast, slow down")
	ErrEmptyConversation = errors.New("conversation id is required")
)
