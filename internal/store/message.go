// Package store holds the durable engine state: the per-conversation message
// logs, the contact-list snapshot, and the login record. Everything sits on
// the blobstore named-value substrate; one conversation log is one named JSON
// array, already deduplicated, ordered, and capped before it is written.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/treasuretool/treasured/internal/blobstore"
	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"go.uber.org/zap"
)

// DefaultMaxMessages caps each conversation log.
const DefaultMaxMessages = 500

// MessageStore maintains the deduplicated, ordered per-conversation logs.
type MessageStore struct {
	blobs  blobstore.Store
	prefs  *Preferences
	bus    *bus.Bus
	logger *zap.Logger
	max    int
}

// NewMessageStore creates a MessageStore. maxMessages <= 0 selects the default
// cap of 500.
func NewMessageStore(blobs blobstore.Store, prefs *Preferences, b *bus.Bus, logger *zap.Logger, maxMessages int) *MessageStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MessageStore{
		blobs:  blobs,
		prefs:  prefs,
		bus:    b,
		logger: logger,
		max:    maxMessages,
	}
}

// Save upserts msg into its conversation log: an existing entry with the same
// id is replaced in place, otherwise the message is prepended. The log is then
// re-sorted by send time descending and truncated to the cap. Saves to the
// same conversation are serialized by the blobstore's per-name lock.
func (s *MessageStore) Save(ctx context.Context, msg *model.Message) error {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	key := msg.ConversationKey(user.ID)

	err = s.blobs.Edit(ctx, s.blobName(user.ID, key), func(current string, exists bool) (string, error) {
		log := s.decodeLog(key, current, exists)

		replaced := false
		for i := range log {
			if log[i].ID == msg.ID {
				log[i] = *msg
				replaced = true
				break
			}
		}
		if !replaced {
			log = append([]model.Message{*msg}, log...)
		}

		sortBySendTimeDesc(log)
		if len(log) > s.max {
			log = log[:s.max]
		}
		return encodeLog(log)
	})
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}

	s.publish(key)
	return nil
}

// UpdateStatus replaces the status of one message, leaving order and
// truncation untouched. A missing conversation or message id is a logged
// no-op.
func (s *MessageStore) UpdateStatus(ctx context.Context, conversationKey, messageID string, status model.MessageStatus) error {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	updated := false
	err = s.blobs.Edit(ctx, s.blobName(user.ID, conversationKey), func(current string, exists bool) (string, error) {
		if !exists {
			return "", blobstore.ErrNoChange
		}
		log := s.decodeLog(conversationKey, current, exists)
		for i := range log {
			if log[i].ID == messageID {
				log[i].Status = status
				updated = true
				return encodeLog(log)
			}
		}
		return "", blobstore.ErrNoChange
	})
	if err != nil {
		return fmt.Errorf("update status of %s: %w", messageID, err)
	}

	if !updated {
		s.logger.Warn("status update for unknown message",
			zap.String("conversation", conversationKey),
			zap.String("message_id", messageID),
			zap.String("status", string(status)))
		return nil
	}

	s.publish(conversationKey)
	return nil
}

// Messages returns the current log for a conversation, newest first.
func (s *MessageStore) Messages(ctx context.Context, conversationKey string) ([]model.Message, error) {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	raw, ok, err := s.blobs.Get(ctx, s.blobName(user.ID, conversationKey))
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return s.decodeLog(conversationKey, raw, ok), nil
}

// Observe returns a live feed of log snapshots for a conversation. The current
// snapshot is delivered first, then a new one on every change. The feed is
// latest-wins and runs until the returned stop func is called or ctx ends.
func (s *MessageStore) Observe(ctx context.Context, conversationKey string) (<-chan []model.Message, func(), error) {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("observe: %w", err)
	}
	name := s.blobName(user.ID, conversationKey)

	values, stopWatch := s.blobs.Watch(name)
	out := make(chan []model.Message, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)

		initial, ok, err := s.blobs.Get(ctx, name)
		if err != nil {
			s.logger.Warn("observe: initial read failed", zap.String("conversation", conversationKey), zap.Error(err))
			initial, ok = "", false
		}
		emit(out, s.decodeLog(conversationKey, initial, ok))

		for {
			select {
			case raw := <-values:
				emit(out, s.decodeLog(conversationKey, raw, raw != ""))
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			stopWatch()
			close(done)
		})
	}
	return out, stop, nil
}

// Clear removes the whole log for a conversation.
func (s *MessageStore) Clear(ctx context.Context, conversationKey string) error {
	user, err := s.prefs.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if err := s.blobs.Delete(ctx, s.blobName(user.ID, conversationKey)); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	s.publish(conversationKey)
	return nil
}

func (s *MessageStore) blobName(userID, conversationKey string) string {
	return userID + "_" + conversationKey
}

// decodeLog parses a stored log. A corrupt blob degrades to an empty log so a
// bad write can never take the conversation down.
func (s *MessageStore) decodeLog(conversationKey, raw string, exists bool) []model.Message {
	if !exists || raw == "" {
		return nil
	}
	var log []model.Message
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		s.logger.Warn("corrupt conversation log, treating as empty",
			zap.String("conversation", conversationKey), zap.Error(err))
		return nil
	}
	return log
}

func (s *MessageStore) publish(conversationKey string) {
	s.bus.Publish(bus.Event{
		Topic:     bus.TopicMessages + conversationKey,
		Timestamp: time.Now(),
		Payload:   conversationKey,
	})
}

func encodeLog(log []model.Message) (string, error) {
	raw, err := json.Marshal(log)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func sortBySendTimeDesc(log []model.Message) {
	sort.SliceStable(log, func(i, j int) bool {
		return log[i].SendTime > log[j].SendTime
	})
}

// emit pushes a snapshot, discarding the oldest pending one when the consumer
// lags so the feed always converges on the latest state.
func emit(out chan []model.Message, snapshot []model.Message) {
	select {
	case out <- snapshot:
	default:
		select {
		case <-out:
		default:
		}
		select {
		case out <- snapshot:
		default:
		}
	}
}
