// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MaxUsernameLen  = 36
	MaxAvatarURLLen = 512
)

var (
	ErrUsernameTooLong  = errors.New("username too long")
	ErrUsernameEmpty    = errors.New("username empty")
	ErrUsernameInvalid  = errors.New("username contains invalid characters")
	ErrAvatarURLTooLong = errors.New("avatar url too long")
)

type UserID int64

// User is the external identity. The coordination core never mutates it.
type User struct {
	ID            UserID    `json:"id"`
	Username      string    `json:"username"`
	AvatarURL     string    `json:"avatar_url"`
	IsAdmin       bool      `json:"is_admin"`
	AutoJoinVoice bool      `json:"auto_join_voice"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username string) (*User, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{Username: username}, nil
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if utf8.RuneCountInString(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrUsernameInvalid
		}
	}
	return nil
}

func (u *User) SetUsername(username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	u.Username = username
	return nil
}

func (u *User) SetAvatarURL(url string) error {
	url = strings.TrimSpace(url)
	if len(url) > MaxAvatarURLLen {
		return ErrAvatarURLTooLong
	}
	u.AvatarURL = url
	return nil
}
