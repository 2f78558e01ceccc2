package store

import (
	"context"
	"errors"
	"fmt"

	"buildrelay.app/relay/core/db"
	"buildrelay.app/relay/internal/model"
	"github.com/jackc/pgx/v5"
)

type userCredentialStore struct {
	queries db.Querier
}

func newUserCredentialStore(queries db.Querier) UserCredentialStore {
	return &userCredentialStore{queries: queries}
}

const userCredentialColumns = `user_id, server_url, ci_user_id, encrypted_token, created_at, updated_at`

func (s *userCredentialStore) Get(ctx context.Context, userID int64) (*model.UserCredential, error) {
	row := s.queries.QueryRow(ctx,
		`SELECT `+userCredentialColumns+` FROM user_credentials WHERE user_id = $1`, userID)

	var cred model.UserCredential
	if err := row.Scan(&cred.UserID, &cred.ServerURL, &cred.CIUserID, &cred.EncryptedToken, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting user credential: %w", err)
	}
	return &cred, nil
}

func (s *userCredentialStore) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.queries.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_credentials WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user credential: %w", err)
	}
	return exists, nil
}

func (s *userCredentialStore) Upsert(ctx context.Context, cred *model.UserCredential) error {
	row := s.queries.QueryRow(ctx, `
		INSERT INTO user_credentials (user_id, server_url, ci_user_id, encrypted_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET server_url = EXCLUDED.server_url,
		    ci_user_id = EXCLUDED.ci_user_id,
		    encrypted_token = EXCLUDED.encrypted_token,
		    updated_at = now()
		RETURNING created_at, updated_at`,
		cred.UserID, cred.ServerURL, cred.CIUserID, cred.EncryptedToken)

	if err := row.Scan(&cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return fmt.Errorf("upserting user credential: %w", err)
	}
	return nil
}

func (s *userCredentialStore) Delete(ctx context.Context, userID int64) (bool, error) {
	tag, err := s.queries.Exec(ctx, `DELETE FROM user_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("deleting user credential: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
