// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxLoginLen = 36

var (
	ErrLoginTooLong = errors.New("login too long")
	ErrLoginEmpty   = errors.New("login empty")
)

type UserID string

type User struct {
	ID    UserID `json:"id"`
	Login string `json:"login"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(login string) (*User, error) {
	if len(login) == 0 {
		return nil, ErrLoginEmpty
	}
	if len(login) > MaxLoginLen {
		return nil, ErrLoginTooLong
	}
	id := UserID(uuid.NewString())
	return &User{ID: id, Login: login}, nil
}
