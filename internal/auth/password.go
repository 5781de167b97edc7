package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// HashPassword returns the bcrypt hash stored on an account.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", types.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks credentials against the roster and issues a token.
type Login struct {
	roster interfaces.Roster
	tokens *Tokens
}

// NewLogin creates a password login service.
func NewLogin(roster interfaces.Roster, tokens *Tokens) *Login {
	return &Login{roster: roster, tokens: tokens}
}

// Authenticate returns a signed token and the account for a valid email/password pair.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (l *Login) Authenticate(ctx context.Context, email, password string) (string, *types.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", nil, ErrInvalidCredentials
	}

	account, err := l.roster.GetAccountByEmail(ctx, email)
	if errors.Is(err, types.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load account: %w", err)
	}

	if account.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		log.Info().Str("account_id", account.ID).Msg("Login rejected")
		return "", nil, ErrInvalidCredentials
	}

	token, _, err := l.tokens.Issue(account)
	if err != nil {
		return "", nil, err
	}

	log.Info().Str("account_id", account.ID).Str("role", account.Role).Msg("Login succeeded")
	return token, account, nil
}
