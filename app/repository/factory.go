package repository

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

var (
	ErrNoDatabase     = errors.New("repository factory needs a database handle")
	ErrNotInitialized = errors.New("repository factory not initialized")
)

// Factory builds the repository set for one database handle exactly once.
// The server shares that set between the handlers, the OAuth coordinator,
// the quota gate and the sync engine.
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

func (f *Factory) Repositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

var (
	globalFactory *Factory
	factoryMu     sync.Mutex
)

// InitializeFactory installs the process-wide factory. Later calls keep the
// first handle.
func InitializeFactory(db *gorm.DB) error {
	if db == nil {
		return ErrNoDatabase
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if globalFactory == nil {
		globalFactory = NewFactory(db)
	}
	return nil
}

// GlobalRepositories returns the repositories of the process-wide factory.
func GlobalRepositories() (*Repositories, error) {
	factoryMu.Lock()
	f := globalFactory
	factoryMu.Unlock()
	if f == nil {
		return nil, ErrNotInitialized
	}
	return f.Repositories(), nil
}
