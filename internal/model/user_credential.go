package model

import "time"

// UserCredential links a chat user to a CI account. The API token is stored sealed;
// only service.CredentialResolver ever sees the plaintext.
type UserCredential struct {
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ServerURL      string    `json:"server_url"`
	CIUserID       string    `json:"ci_user_id"`
	EncryptedToken string    `json:"-"`
	UserID         int64     `json:"user_id"`
}
