package types

import "errors"

// Validation errors
var (
	ErrInvalidEnvelope    = errors.New("invalid event envelope")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidChannelID   = errors.New("invalid channel id")
	ErrInvalidMessageID   = errors.New("invalid message id")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 2000 characters")
	ErrInvalidEmoji       = errors.New("emoji must be 1-50 characters")
	ErrInvalidChannelName = errors.New("channel name must be 2-50 characters")
)
