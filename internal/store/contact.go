package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/treasuretool/treasured/internal/blobstore"
	"github.com/treasuretool/treasured/internal/model"
	"go.uber.org/zap"
)

// ContactStore persists the directory snapshot for each account under
// "<userId>_contacts". The in-memory presence cache owns the live entries;
// this is the durable copy refreshed on directory sync.
type ContactStore struct {
	blobs  blobstore.Store
	logger *zap.Logger
}

// NewContactStore creates a ContactStore backed by blobs.
func NewContactStore(blobs blobstore.Store, logger *zap.Logger) *ContactStore {
	return &ContactStore{blobs: blobs, logger: logger}
}

// Save replaces the persisted contact list for userID.
func (s *ContactStore) Save(ctx context.Context, userID string, contacts []model.Contact) error {
	raw, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}
	if err := s.blobs.Put(ctx, s.blobName(userID), string(raw)); err != nil {
		return fmt.Errorf("save contacts: %w", err)
	}
	return nil
}

// Contacts returns the persisted contact list for userID. A missing or corrupt
// snapshot yields an empty list.
func (s *ContactStore) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	raw, ok, err := s.blobs.Get(ctx, s.blobName(userID))
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var contacts []model.Contact
	if err := json.Unmarshal([]byte(raw), &contacts); err != nil {
		s.logger.Warn("corrupt contact snapshot, treating as empty", zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	return contacts, nil
}

// Clear removes the persisted contact list for userID.
func (s *ContactStore) Clear(ctx context.Context, userID string) error {
	return s.blobs.Delete(ctx, s.blobName(userID))
}

func (s *ContactStore) blobName(userID string) string {
	return userID + "_contacts"
}
