// Package chat orchestrates outbound messaging: optimistic local commit,
// network send, and status reconciliation. Delivery is at-most-once; a failed
// message stays FAILED until the caller resends it under the same id.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"github.com/treasuretool/treasured/internal/store"
	"go.uber.org/zap"
)

// Transport transmits an encoded message on the live connection.
type Transport interface {
	Send(ctx context.Context, msg *model.Message) error
}

// HistoryAPI fetches pages of past messages from the server.
type HistoryAPI interface {
	History(ctx context.Context, userID, contactID string, offset, limit int) ([]model.Message, error)
}

// Coordinator drives the optimistic send pipeline.
type Coordinator struct {
	msgs      *store.MessageStore
	transport Transport
	history   HistoryAPI
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(msgs *store.MessageStore, transport Transport, history HistoryAPI, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		msgs:      msgs,
		transport: transport,
		history:   history,
		bus:       b,
		logger:    logger,
	}
}

// SendMessage commits msg locally as SENDING, transmits it, and reconciles
// the stored status with the outcome. The returned error is the transport
// failure, if any; in that case the message is already recorded as FAILED.
// Resending is a repeat call with the same message id.
func (c *Coordinator) SendMessage(ctx context.Context, msg *model.Message) error {
	// The sender files the conversation under the receiver (or group) id.
	conversationKey := msg.ReceiverID

	msg.Status = model.StatusSending
	if err := c.msgs.Save(ctx, msg); err != nil {
		return fmt.Errorf("commit outgoing message: %w", err)
	}

	if err := c.transport.Send(ctx, msg); err != nil {
		c.logger.Warn("send failed",
			zap.String("message_id", msg.ID),
			zap.String("conversation", conversationKey),
			zap.Error(err))
		if updErr := c.msgs.UpdateStatus(ctx, conversationKey, msg.ID, model.StatusFailed); updErr != nil {
			c.logger.Error("failed to record FAILED status", zap.String("message_id", msg.ID), zap.Error(updErr))
		}
		c.bus.Publish(bus.Event{
			Topic:     bus.TopicSendFailed,
			Timestamp: time.Now(),
			Payload:   msg.ID,
		})
		return fmt.Errorf("send message %s: %w", msg.ID, err)
	}

	if err := c.msgs.UpdateStatus(ctx, conversationKey, msg.ID, model.StatusSent); err != nil {
		return fmt.Errorf("record SENT status: %w", err)
	}
	return nil
}

// LoadHistory fetches a page of past messages and folds it into the local
// log, exercising the same dedup and cap rules as live traffic. The fetched
// page is returned for the caller; a fetch failure is returned untouched.
func (c *Coordinator) LoadHistory(ctx context.Context, userID, contactID string, offset, limit int) ([]model.Message, error) {
	page, err := c.history.History(ctx, userID, contactID, offset, limit)
	if err != nil {
		return nil, err
	}
	for i := range page {
		if err := c.msgs.Save(ctx, &page[i]); err != nil {
			c.logger.Warn("failed to cache history message",
				zap.String("message_id", page[i].ID), zap.Error(err))
		}
	}
	c.logger.Info("history page loaded",
		zap.String("contact", contactID),
		zap.Int("offset", offset),
		zap.Int("count", len(page)))
	return page, nil
}

// ClearConversation removes the whole local log for a conversation.
func (c *Coordinator) ClearConversation(ctx context.Context, conversationKey string) error {
	return c.msgs.Clear(ctx, conversationKey)
}
