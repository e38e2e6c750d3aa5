package auth

import "errors"

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrForbidden          = errors.New("auth: forbidden")
)
