package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"auction-scraper/models"
	"auction-scraper/storage"
	"auction-scraper/utils"
)

// Coordinator applies insert-if-absent, update-if-changed, no-op-if-identical
// against a Store. It holds no lock: the store's unique external id is the
// source of truth, and a duplicate on insert is handled as an update.
type Coordinator struct {
	store  storage.Store
	logger *slog.Logger
}

func NewCoordinator(store storage.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Coordinator{store: store, logger: logger}
}

func (c *Coordinator) Upsert(ctx context.Context, l models.Listing) (models.UpsertResult, error) {
	existing, err := c.store.FindByExternalID(ctx, l.ExternalID)
	if err != nil {
		return models.Skipped, fmt.Errorf("lookup %s: %w", l.ExternalID, err)
	}

	if existing == nil {
		err := c.store.Insert(ctx, l)
		if err == nil {
			return models.Inserted, nil
		}
		if !errors.Is(err, storage.ErrDuplicateExternalID) {
			return models.Skipped, err
		}

		c.logger.Debug("insert lost a race, updating instead", "external_id", l.ExternalID)
		existing, err = c.store.FindByExternalID(ctx, l.ExternalID)
		if err != nil {
			return models.Skipped, fmt.Errorf("lookup %s after conflict: %w", l.ExternalID, err)
		}
		if existing == nil {
			return models.Skipped, fmt.Errorf("listing %s missing after conflict: %w", l.ExternalID, storage.ErrNotFound)
		}
	}

	incoming := l.Mutable()
	if existing.Mutable().Equal(incoming) {
		return models.Skipped, nil
	}
	if err := c.store.Update(ctx, l.ExternalID, incoming); err != nil {
		return models.Skipped, err
	}
	return models.Updated, nil
}
