package storage

import (
	"context"
	"sync"

	"auction-scraper/models"
)

// MemoryStore keeps listings in a map. It backs dry runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	listings map[string]models.Listing
	writes   int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]models.Listing)}
}

func (s *MemoryStore) FindByExternalID(_ context.Context, externalID string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[externalID]
	if !ok {
		return nil, nil
	}
	l.ImageURLs = append([]string(nil), l.ImageURLs...)
	return &l, nil
}

func (s *MemoryStore) Insert(_ context.Context, l models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[l.ExternalID]; ok {
		return ErrDuplicateExternalID
	}
	l.ImageURLs = append([]string(nil), l.ImageURLs...)
	s.listings[l.ExternalID] = l
	s.writes++
	return nil
}

func (s *MemoryStore) Update(_ context.Context, externalID string, u models.ListingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[externalID]
	if !ok {
		return ErrNotFound
	}
	s.listings[externalID] = l.Apply(u)
	s.writes++
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

// Writes counts effective inserts and updates.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
