package store

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrRequestNotFound = errors.New("request not found")
	ErrTokenNotFound   = errors.New("token not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrNameTaken       = errors.New("name already registered")
	ErrInvalidState    = errors.New("invalid request state")
	ErrUnavailable     = errors.New("store unavailable")
)

// Unavailable marks err as a connectivity failure of the backing store.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// IsNotFound reports whether err is any of the keyed-lookup misses.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}
