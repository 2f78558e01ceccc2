package service

import (
	"buildrelay.app/relay/internal/store"
)

type Services struct {
	stores    *store.Stores
	txRunner  TxRunner
	sealer    Sealer
	newClient ClientFactory
}

func NewServices(stores *store.Stores, txRunner TxRunner, sealer Sealer, newClient ClientFactory) *Services {
	return &Services{
		stores:    stores,
		txRunner:  txRunner,
		sealer:    sealer,
		newClient: newClient,
	}
}

func (s *Services) Accounts() AccountService {
	return NewAccountService(s.stores.UserCredentials(), s.sealer, s.newClient)
}

func (s *Services) Credentials() CredentialResolver {
	return NewCredentialResolver(s.stores.UserCredentials(), s.sealer, s.newClient)
}

func (s *Services) Groups() GroupService {
	return NewGroupService(s.stores.GroupConfigs())
}

func (s *Services) Ledger() Ledger {
	return NewLedger(s.stores.BuildRequests(), s.txRunner)
}
