package service

import "errors"

var (
	// ErrNotLoggedIn means the user has no stored CI credentials.
	ErrNotLoggedIn = errors.New("user not logged in")

	// ErrCredentialsUnusable means stored credentials exist but cannot be opened.
	// The user recovers by running /login again.
	ErrCredentialsUnusable = errors.New("stored credentials unusable")

	// ErrAlreadyLoggedIn is returned by Login when credentials are already stored.
	ErrAlreadyLoggedIn = errors.New("user already logged in")

	// ErrNoBuildRequest means a completion event matched no ledger row.
	ErrNoBuildRequest = errors.New("no build request for event")

	ErrInvalidBuildRequest = errors.New("invalid build request")
)
