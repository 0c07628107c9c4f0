package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("auth: authentication required")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")
)
