package client

import "errors"

// Client errors
var (
	ErrUnknownMessage = errors.New("no local message with that temp id")
	ErrNotFailed      = errors.New("only failed messages can be resent")
	ErrNoSender       = errors.New("engine has no sender")
	ErrClientClosed   = errors.New("client is closed")
	ErrEmptyURL       = errors.New("gateway url cannot be empty")
)
