package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/treasuretool/treasured/internal/blobstore"
	"github.com/treasuretool/treasured/internal/model"
	"go.uber.org/zap"
)

// ErrNotLoggedIn is returned when no valid login record exists.
var ErrNotLoggedIn = errors.New("not logged in")

const prefsBlobName = "user_data"

// loginValidity is how long a saved login stays usable.
const loginValidity = 7 * 24 * time.Hour

type loginRecord struct {
	User      model.User `json:"user"`
	LoginTime int64      `json:"loginTime"` // epoch millis
}

// Preferences persists the authenticated user record.
type Preferences struct {
	blobs  blobstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewPreferences creates a Preferences backed by blobs.
func NewPreferences(blobs blobstore.Store, logger *zap.Logger) *Preferences {
	return &Preferences{
		blobs:  blobs,
		logger: logger,
		now:    time.Now,
	}
}

// SaveLoginUser stores user as the current login, stamping the login time.
func (p *Preferences) SaveLoginUser(ctx context.Context, user *model.User) error {
	rec := loginRecord{User: *user, LoginTime: p.now().UnixMilli()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode login record: %w", err)
	}
	if err := p.blobs.Put(ctx, prefsBlobName, string(raw)); err != nil {
		return fmt.Errorf("save login: %w", err)
	}
	p.logger.Info("login saved", zap.String("user_id", user.ID), zap.String("nickname", user.Nickname))
	return nil
}

// CurrentUser returns the logged-in user, or ErrNotLoggedIn when there is no
// valid record.
func (p *Preferences) CurrentUser(ctx context.Context) (*model.User, error) {
	rec, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// IsLoggedIn reports whether a login record exists and is still within its
// validity window.
func (p *Preferences) IsLoggedIn(ctx context.Context) bool {
	rec, err := p.load(ctx)
	if err != nil {
		return false
	}
	expiry := time.UnixMilli(rec.LoginTime).Add(loginValidity)
	return p.now().Before(expiry)
}

// ClearLogin removes the stored login record.
func (p *Preferences) ClearLogin(ctx context.Context) error {
	return p.blobs.Delete(ctx, prefsBlobName)
}

func (p *Preferences) load(ctx context.Context) (*loginRecord, error) {
	raw, ok, err := p.blobs.Get(ctx, prefsBlobName)
	if err != nil {
		return nil, fmt.Errorf("load login: %w", err)
	}
	if !ok {
		return nil, ErrNotLoggedIn
	}
	var rec loginRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		p.logger.Warn("corrupt login record, treating as logged out", zap.Error(err))
		return nil, ErrNotLoggedIn
	}
	if rec.User.ID == "" {
		return nil, ErrNotLoggedIn
	}
	return &rec, nil
}
