package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrLastGuildAdmin = errors.New("cannot remove the last guild admin from this guild")
	ErrStore          = errors.New("store failure")
)

// StoreError wraps a storage fault so it can't be mistaken for "not found".
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// AuthorizationError reports a store fault hit while deciding access. It is
// neither an allow nor a deny and surfaces as a server fault.
type AuthorizationError struct {
	UserID  string
	GuildID string
	Err     error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorize user %s in guild %s: %v", e.UserID, e.GuildID, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }
