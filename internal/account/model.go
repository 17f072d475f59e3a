package account

import (
	"regexp"
	"time"

	apperrors "github.com/calyxmail/calyx/internal/errors"
)

// Status describes the lifecycle state of an account.
type Status string

const (
	// StatusActive is a healthy account with usable credentials.
	StatusActive Status = "active"
	// StatusError marks an account whose stored credentials failed to decrypt.
	StatusError Status = "error"
	// StatusRevoked marks an account whose tokens were revoked and cleared.
	StatusRevoked Status = "revoked"
)

// TokenSet holds the decrypted OAuth credentials of one account. It lives
// only in memory and must never be logged.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Account is one configured mail/calendar account.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Tokens      *TokenSet `json:"tokens,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	Status      Status    `json:"status,omitempty"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Validate checks the required fields of a candidate account. The returned
// validation error names the offending field.
func (a *Account) Validate() error {
	if a.ID == "" {
		return apperrors.ValidationError("account id is required").WithField("field", "id")
	}
	if a.Email == "" {
		return apperrors.ValidationError("account email is required").WithField("field", "email")
	}
	if !emailPattern.MatchString(a.Email) {
		return apperrors.ValidationError("account email must have a local@domain shape").
			WithField("field", "email").
			WithField("value", a.Email)
	}
	return nil
}

// Merge overlays the non-empty fields of incoming onto the receiver and
// returns the result. The zero Expiry counts as absent.
func (t TokenSet) Merge(incoming TokenSet) TokenSet {
	merged := t
	if incoming.AccessToken != "" {
		merged.AccessToken = incoming.AccessToken
	}
	if incoming.RefreshToken != "" {
		merged.RefreshToken = incoming.RefreshToken
	}
	if incoming.TokenType != "" {
		merged.TokenType = incoming.TokenType
	}
	if incoming.Scope != "" {
		merged.Scope = incoming.Scope
	}
	if !incoming.Expiry.IsZero() {
		merged.Expiry = incoming.Expiry
	}
	return merged
}
