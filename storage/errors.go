package storage

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrNoSpace         = errors.New("no space selected")
	ErrUnknownSpace    = errors.New("unknown space")
	ErrNotLoggedIn     = errors.New("not logged in")
	ErrLoginExpired    = errors.New("login request expired before it was confirmed")
	ErrLoginTimeout    = errors.New("timed out waiting for login confirmation")
	ErrInvalidName     = errors.New("invalid space name")
	ErrInvalidCID      = errors.New("invalid CID")
	ErrInvalidFileName = errors.New("invalid file name")
)

func checkSpaceRequest(name string, account *Account) error {
	if account == nil || account.DID == "" {
		return ErrNotLoggedIn
	}

	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidName, name)
		}
	}

	return nil
}
