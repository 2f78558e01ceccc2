package service

import (
	"context"
	"errors"
	"fmt"

	"buildrelay.app/relay/common/sealed"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/store"
)

// Sealer encrypts API tokens at rest. *sealed.Sealer satisfies it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ClientFactory opens a CI client for one set of credentials.
type ClientFactory func(creds ci.Credentials) (ci.Server, error)

// NewClientFactory returns a ClientFactory building ci.Client values with opts.
func NewClientFactory(opts ci.Options) ClientFactory {
	return func(creds ci.Credentials) (ci.Server, error) {
		return ci.NewClient(creds, opts)
	}
}

// CredentialResolver turns a chat user id into usable CI access.
type CredentialResolver interface {
	Credentials(ctx context.Context, userID int64) (ci.Credentials, error)
	ClientFor(ctx context.Context, userID int64) (ci.Server, error)
}

type credentialResolver struct {
	creds     store.UserCredentialStore
	sealer    Sealer
	newClient ClientFactory
}

func NewCredentialResolver(creds store.UserCredentialStore, sealer Sealer, newClient ClientFactory) CredentialResolver {
	return &credentialResolver{creds: creds, sealer: sealer, newClient: newClient}
}

func (r *credentialResolver) Credentials(ctx context.Context, userID int64) (ci.Credentials, error) {
	row, err := r.creds.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ci.Credentials{}, ErrNotLoggedIn
	}
	if err != nil {
		return ci.Credentials{}, fmt.Errorf("loading credentials: %w", err)
	}

	token, err := r.sealer.Decrypt(row.EncryptedToken)
	if errors.Is(err, sealed.ErrUnusable) {
		return ci.Credentials{}, fmt.Errorf("%w: %v", ErrCredentialsUnusable, err)
	}
	if err != nil {
		return ci.Credentials{}, fmt.Errorf("opening token: %w", err)
	}

	return ci.Credentials{ServerURL: row.ServerURL, UserID: row.CIUserID, Token: token}, nil
}

func (r *credentialResolver) ClientFor(ctx context.Context, userID int64) (ci.Server, error) {
	creds, err := r.Credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := r.newClient(creds)
	if err != nil {
		// A stored URL that no longer parses is as good as a bad token.
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUnusable, err)
	}
	return client, nil
}
