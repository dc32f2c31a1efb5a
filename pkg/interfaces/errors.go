package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelExists   = errors.New("channel already exists")
	ErrNotAuthor       = errors.New("not the message author")
	ErrNotMember       = errors.New("not a channel member")
	ErrUnauthorized    = errors.New("unauthorized access")
)
