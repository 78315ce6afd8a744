package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/treasuretool/treasured/internal/blobstore"
	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"github.com/treasuretool/treasured/internal/presence"
	"github.com/treasuretool/treasured/internal/store"
	"go.uber.org/zap"
)

type fakeAPI struct {
	loginErr    error
	contactsErr error
	user        model.User
	contacts    []model.Contact
}

func (f *fakeAPI) Login(context.Context, string, string) (*model.User, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	u := f.user
	return &u, nil
}

func (f *fakeAPI) UserInfo(context.Context, string) (*model.User, error) {
	u := f.user
	return &u, nil
}

func (f *fakeAPI) Contacts(context.Context, string) ([]model.Contact, error) {
	if f.contactsErr != nil {
		return nil, f.contactsErr
	}
	return f.contacts, nil
}

func testService(t *testing.T, api *fakeAPI) (*Service, *store.Preferences, *store.ContactStore, *presence.Cache, *bus.Bus) {
	t.Helper()
	db, err := blobstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	prefs := store.NewPreferences(db, logger)
	contacts := store.NewContactStore(db, logger)
	cache := presence.NewCache(b, logger, 0)
	return NewService(api, prefs, contacts, cache, b, logger), prefs, contacts, cache, b
}

func TestLoginPersistsUserAndContacts(t *testing.T) {
	api := &fakeAPI{
		user: model.User{ID: "u1", Username: "alice"},
		contacts: []model.Contact{
			{UserID: "u2", Name: "Bob", Status: model.PresenceOnline},
			{UserID: "u3", Name: "Carol"},
		},
	}
	svc, prefs, contacts, cache, _ := testService(t, api)
	ctx := context.Background()

	user, err := svc.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != "u1" {
		t.Errorf("user = %+v", user)
	}

	saved, err := prefs.CurrentUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Username != "alice" {
		t.Errorf("saved user = %+v", saved)
	}

	snapshot, err := contacts.Contacts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 2 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if entry, ok := cache.Get("u2"); !ok || !entry.Contact.IsOnline() {
		t.Errorf("cache entry = %+v, ok = %v", entry, ok)
	}
}

func TestLoginSurvivesContactFailure(t *testing.T) {
	api := &fakeAPI{user: model.User{ID: "u1"}, contactsErr: errors.New("directory down")}
	svc, prefs, _, _, _ := testService(t, api)

	if _, err := svc.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login should succeed despite directory failure, got %v", err)
	}
	if !prefs.IsLoggedIn(context.Background()) {
		t.Error("login record should be persisted")
	}
}

func TestLoginRejected(t *testing.T) {
	boom := errors.New("bad credentials")
	svc, prefs, _, _, _ := testService(t, &fakeAPI{loginErr: boom})

	if _, err := svc.Login(context.Background(), "alice", "wrong"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want login error", err)
	}
	if prefs.IsLoggedIn(context.Background()) {
		t.Error("no login record should exist after a rejected login")
	}
}

func TestRefreshContactsPublishes(t *testing.T) {
	api := &fakeAPI{user: model.User{ID: "u1"}, contacts: []model.Contact{{UserID: "u2"}}}
	svc, _, _, _, b := testService(t, api)
	ctx := context.Background()

	events, stop := b.Subscribe(bus.TopicContacts, 4)
	defer stop()

	if _, err := svc.Login(ctx, "alice", "secret"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Payload != 1 {
			t.Errorf("payload = %v, want contact count 1", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for contacts event")
	}
}

func TestRefreshContactsRequiresLogin(t *testing.T) {
	svc, _, _, _, _ := testService(t, &fakeAPI{})

	if err := svc.RefreshContacts(context.Background()); !errors.Is(err, store.ErrNotLoggedIn) {
		t.Errorf("err = %v, want ErrNotLoggedIn", err)
	}
}

func TestLogout(t *testing.T) {
	svc, prefs, _, _, _ := testService(t, &fakeAPI{user: model.User{ID: "u1"}})
	ctx := context.Background()

	if _, err := svc.Login(ctx, "alice", "secret"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if prefs.IsLoggedIn(ctx) {
		t.Error("still logged in after logout")
	}
}
