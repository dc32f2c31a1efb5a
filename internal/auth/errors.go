package auth

import "errors"

// Token verification errors
var (
	ErrEmptyToken    = errors.New("token is empty")
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingClaims = errors.New("token is missing sub or username")
	ErrEmptySecret   = errors.New("jwt secret cannot be empty")
)
