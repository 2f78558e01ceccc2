package store

import (
	"buildrelay.app/relay/core/db"
)

type Stores struct {
	queries db.Querier
}

// NewStores binds every store to q, which is either the pool or an open transaction.
func NewStores(queries db.Querier) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) UserCredentials() UserCredentialStore {
	return newUserCredentialStore(s.queries)
}

func (s *Stores) GroupConfigs() GroupConfigStore {
	return newGroupConfigStore(s.queries)
}

func (s *Stores) BuildRequests() BuildRequestStore {
	return newBuildRequestStore(s.queries)
}
