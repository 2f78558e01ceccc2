package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/model"
	"buildrelay.app/relay/internal/store"
)

type AccountService interface {
	IsLoggedIn(ctx context.Context, userID int64) (bool, error)
	// Login checks the credentials against the CI server before storing them.
	Login(ctx context.Context, userID int64, creds ci.Credentials) (*ci.Identity, error)
	// Logout reports whether anything was removed.
	Logout(ctx context.Context, userID int64) (bool, error)
}

type accountService struct {
	creds     store.UserCredentialStore
	sealer    Sealer
	newClient ClientFactory
}

func NewAccountService(creds store.UserCredentialStore, sealer Sealer, newClient ClientFactory) AccountService {
	return &accountService{creds: creds, sealer: sealer, newClient: newClient}
}

func (s *accountService) IsLoggedIn(ctx context.Context, userID int64) (bool, error) {
	ok, err := s.creds.Exists(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("checking credentials: %w", err)
	}
	return ok, nil
}

func (s *accountService) Login(ctx context.Context, userID int64, creds ci.Credentials) (*ci.Identity, error) {
	creds.ServerURL = strings.TrimRight(strings.TrimSpace(creds.ServerURL), "/")
	creds.UserID = strings.TrimSpace(creds.UserID)
	creds.Token = strings.TrimSpace(creds.Token)

	loggedIn, err := s.IsLoggedIn(ctx, userID)
	if err != nil {
		return nil, err
	}
	if loggedIn {
		return nil, ErrAlreadyLoggedIn
	}

	client, err := s.newClient(creds)
	if err != nil {
		return nil, err
	}

	identity, err := client.WhoAmI(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying credentials: %w", err)
	}

	sealedToken, err := s.sealer.Encrypt(creds.Token)
	if err != nil {
		return nil, fmt.Errorf("sealing token: %w", err)
	}

	row := &model.UserCredential{
		UserID:         userID,
		ServerURL:      creds.ServerURL,
		CIUserID:       creds.UserID,
		EncryptedToken: sealedToken,
	}
	if err := s.creds.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("saving credentials: %w", err)
	}

	slog.InfoContext(ctx, "user logged in",
		"user_id", userID,
		"ci_user", creds.UserID,
		"server_url", creds.ServerURL)
	return identity, nil
}

func (s *accountService) Logout(ctx context.Context, userID int64) (bool, error) {
	removed, err := s.creds.Delete(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("deleting credentials: %w", err)
	}
	return removed, nil
}
