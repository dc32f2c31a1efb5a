package channel

import "errors"

// Channel management errors
var (
	ErrInvalidUserID = errors.New("invalid user ID format")
	ErrNotOwner      = errors.New("only the channel owner can remove other members")
)
