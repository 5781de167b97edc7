package commands

import (
	"context"
	"fmt"

	"attendance/internal/app"
	"attendance/internal/auth"
)

type TokenCmd struct {
	ConfigFlags
	Account string `arg:"" help:"Account id to issue the token for"`
}

func (t *TokenCmd) Run(ctx context.Context) error {
	cfg, err := t.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	account, err := store.GetAccount(ctx, t.Account)
	if err != nil {
		return fmt.Errorf("account %s: %w", t.Account, err)
	}

	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	token, _, err := tokens.Issue(account)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
