package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/webhooks"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// Store composes the table stores into a core.Store.
type Store struct {
	*BountyStore
	*ContributorStore
	*PayoutStore
	*InstallationStore
}

type RepositoryFactory struct {
	db *bun.DB

	store             *Store
	coordinationStore *CoordinationStore
	deliveryStore     *WebhookDeliveryStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.Store, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.store != nil {
		return f.store, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f.store, nil
}

func (f *RepositoryFactory) Store() core.Store {
	if f == nil || f.store == nil {
		return nil
	}
	return f.store
}

func (f *RepositoryFactory) CoordinationStore() *CoordinationStore {
	if f == nil {
		return nil
	}
	return f.coordinationStore
}

func (f *RepositoryFactory) DeliveryLedger() webhooks.DeliveryLedger {
	if f == nil || f.deliveryStore == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	bountyStore, err := NewBountyStore(f.db)
	if err != nil {
		return err
	}
	contributorStore, err := NewContributorStore(f.db)
	if err != nil {
		return err
	}
	payoutStore, err := NewPayoutStore(f.db)
	if err != nil {
		return err
	}
	installationStore, err := NewInstallationStore(f.db)
	if err != nil {
		return err
	}
	coordinationStore, err := NewCoordinationStore(f.db)
	if err != nil {
		return err
	}
	deliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}

	f.store = &Store{
		BountyStore:       bountyStore,
		ContributorStore:  contributorStore,
		PayoutStore:       payoutStore,
		InstallationStore: installationStore,
	}
	f.coordinationStore = coordinationStore
	f.deliveryStore = deliveryStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
