package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mirthlab/jokebox/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Migrate applies the backend schema when the database is uninitialized.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check store initialization")
	}
	if initialized {
		return nil
	}
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to migrate store")
	}
	return nil
}
