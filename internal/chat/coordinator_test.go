package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/treasuretool/treasured/internal/blobstore"
	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"github.com/treasuretool/treasured/internal/store"
	"go.uber.org/zap"
)

type fakeTransport struct {
	err  error
	sent []model.Message
}

func (f *fakeTransport) Send(_ context.Context, msg *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, *msg)
	return nil
}

type fakeHistory struct {
	err  error
	page []model.Message
}

func (f *fakeHistory) History(context.Context, string, string, int, int) ([]model.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func testCoordinator(t *testing.T, transport Transport, history HistoryAPI) (*Coordinator, *store.MessageStore) {
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
	prefs := store.NewPreferences(db, logger)
	if err := prefs.SaveLoginUser(context.Background(), &model.User{ID: "me"}); err != nil {
		t.Fatal(err)
	}
	msgs := store.NewMessageStore(db, prefs, bus.New(), logger, 0)
	return NewCoordinator(msgs, transport, history, bus.New(), logger), msgs
}

func outgoing(id string) *model.Message {
	return &model.Message{
		ID:         id,
		Kind:       model.KindText,
		Content:    "hello",
		SenderID:   "me",
		ReceiverID: "bob",
		Status:     model.StatusSending,
		SendTime:   100,
	}
}

func TestSendMessageSuccess(t *testing.T) {
	transport := &fakeTransport{}
	c, msgs := testCoordinator(t, transport, &fakeHistory{})
	ctx := context.Background()

	if err := c.SendMessage(ctx, outgoing("m1")); err != nil {
		t.Fatal(err)
	}

	if len(transport.sent) != 1 || transport.sent[0].ID != "m1" {
		t.Errorf("transport saw %+v", transport.sent)
	}
	log, _ := msgs.Messages(ctx, "bob")
	if len(log) != 1 || log[0].Status != model.StatusSent {
		t.Errorf("log = %+v, want single SENT message", log)
	}
}

func TestSendMessageFailure(t *testing.T) {
	boom := errors.New("socket gone")
	c, msgs := testCoordinator(t, &fakeTransport{err: boom}, &fakeHistory{})
	ctx := context.Background()

	err := c.SendMessage(ctx, outgoing("m1"))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}

	// The optimistic write survives with FAILED status.
	log, _ := msgs.Messages(ctx, "bob")
	if len(log) != 1 || log[0].Status != model.StatusFailed {
		t.Errorf("log = %+v, want single FAILED message", log)
	}
}

func TestResendReusesMessageID(t *testing.T) {
	transport := &fakeTransport{err: errors.New("down")}
	c, msgs := testCoordinator(t, transport, &fakeHistory{})
	ctx := context.Background()

	msg := outgoing("m1")
	if err := c.SendMessage(ctx, msg); err == nil {
		t.Fatal("first send should fail")
	}

	// Explicit resend with the same id succeeds and does not duplicate.
	transport.err = nil
	if err := c.SendMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	log, _ := msgs.Messages(ctx, "bob")
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1 (resend is an upsert)", len(log))
	}
	if log[0].Status != model.StatusSent {
		t.Errorf("status = %q, want SENT", log[0].Status)
	}
}

func TestLoadHistory(t *testing.T) {
	history := &fakeHistory{page: []model.Message{
		{ID: "h1", SenderID: "bob", ReceiverID: "me", Content: "old", Status: model.StatusRead, SendTime: 10},
		{ID: "h2", SenderID: "me", ReceiverID: "bob", Content: "older", Status: model.StatusRead, SendTime: 5},
	}}
	c, msgs := testCoordinator(t, &fakeTransport{}, history)
	ctx := context.Background()

	page, err := c.LoadHistory(ctx, "me", "bob", 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("page length = %d, want 2", len(page))
	}

	log, _ := msgs.Messages(ctx, "bob")
	if len(log) != 2 || log[0].ID != "h1" {
		t.Errorf("log = %+v, want h1 then h2 (sorted desc)", log)
	}

	// Loading the same page again does not duplicate.
	if _, err := c.LoadHistory(ctx, "me", "bob", 0, 20); err != nil {
		t.Fatal(err)
	}
	log, _ = msgs.Messages(ctx, "bob")
	if len(log) != 2 {
		t.Errorf("log length after reload = %d, want 2", len(log))
	}
}

func TestLoadHistoryFailure(t *testing.T) {
	boom := errors.New("api down")
	c, _ := testCoordinator(t, &fakeTransport{}, &fakeHistory{err: boom})

	if _, err := c.LoadHistory(context.Background(), "me", "bob", 0, 20); !errors.Is(err, boom) {
		t.Errorf("err = %v, want untouched api error", err)
	}
}

func TestClearConversation(t *testing.T) {
	c, msgs := testCoordinator(t, &fakeTransport{}, &fakeHistory{})
	ctx := context.Background()

	if err := c.SendMessage(ctx, outgoing("m1")); err != nil {
		t.Fatal(err)
	}
	if err := c.ClearConversation(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	log, _ := msgs.Messages(ctx, "bob")
	if len(log) != 0 {
		t.Errorf("log = %+v, want empty", log)
	}
}
