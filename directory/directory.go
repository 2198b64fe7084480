// Package directory stores the reader accounts the local identity provider
// issues codes for.
//
// An account is created pending by a sign-up send and confirmed by the
// first successful verification. Addresses are unique case-insensitively.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("directory: user not found")
	ErrDuplicate = errors.New("directory: user already exists")
)

type User struct {
	ID          string
	Email       string
	Username    string
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// Confirmed reports whether the account completed a verification.
func (u User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// Directory is the account store behind the provider.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, email, username string) (User, error)
	// Confirm marks id confirmed at the given time. Confirming an already
	// confirmed account keeps the original time.
	Confirm(ctx context.Context, id string, at time.Time) (User, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
