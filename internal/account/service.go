// Package account handles login and directory synchronization against the
// request-response API, feeding the presence cache and the persisted
// snapshots.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"github.com/treasuretool/treasured/internal/presence"
	"github.com/treasuretool/treasured/internal/store"
	"go.uber.org/zap"
)

// API is the slice of the remote client this service consumes.
type API interface {
	Login(ctx context.Context, username, password string) (*model.User, error)
	UserInfo(ctx context.Context, userID string) (*model.User, error)
	Contacts(ctx context.Context, userID string) ([]model.Contact, error)
}

// Service owns the account state transitions.
type Service struct {
	api      API
	prefs    *store.Preferences
	contacts *store.ContactStore
	cache    *presence.Cache
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewService creates an account Service.
func NewService(api API, prefs *store.Preferences, contacts *store.ContactStore, cache *presence.Cache, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		api:      api,
		prefs:    prefs,
		contacts: contacts,
		cache:    cache,
		bus:      b,
		logger:   logger,
	}
}

// Login authenticates, persists the login record, and refreshes the contact
// directory. A directory failure does not fail the login; it is retried on
// the next sync.
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.api.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.prefs.SaveLoginUser(ctx, user); err != nil {
		return nil, fmt.Errorf("persist login: %w", err)
	}
	if err := s.RefreshContacts(ctx); err != nil {
		s.logger.Warn("contact refresh after login failed", zap.Error(err))
	}
	return user, nil
}

// RefreshUserInfo re-fetches the account record and persists it.
func (s *Service) RefreshUserInfo(ctx context.Context) error {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fresh, err := s.api.UserInfo(ctx, user.ID)
	if err != nil {
		return err
	}
	return s.prefs.SaveLoginUser(ctx, fresh)
}

// RefreshContacts fetches the directory, refreshes the presence cache, and
// persists the snapshot.
func (s *Service) RefreshContacts(ctx context.Context) error {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return err
	}
	contacts, err := s.api.Contacts(ctx, user.ID)
	if err != nil {
		return err
	}

	s.cache.UpsertBatch(contacts)
	if err := s.contacts.Save(ctx, user.ID, contacts); err != nil {
		return err
	}

	s.bus.Publish(bus.Event{
		Topic:     bus.TopicContacts,
		Timestamp: time.Now(),
		Payload:   len(contacts),
	})
	s.logger.Info("contact directory refreshed", zap.Int("contacts", len(contacts)))
	return nil
}

// Logout clears the persisted login record.
func (s *Service) Logout(ctx context.Context) error {
	return s.prefs.ClearLogin(ctx)
}
