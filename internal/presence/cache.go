// Package presence keeps a bounded in-memory contact directory with live
// online/offline tracking. Capacity is fixed; the least recently touched
// contact is evicted under pressure. Entries are copy-on-write: an update
// installs a new Entry with a bumped revision rather than mutating the value a
// subscriber may already hold.
package presence

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/model"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the cache.
const DefaultCapacity = 20

// ErrUnknownContact is returned when a presence update targets a contact that
// is not cached. The update is dropped; there is nothing to mutate.
var ErrUnknownContact = errors.New("contact not cached")

// Entry is an immutable snapshot of one cached contact. Revision increases on
// every change to that contact.
type Entry struct {
	Contact  model.Contact
	Revision uint64
}

// Cache is the LRU contact cache. Reads and writes both count as a touch.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently touched, values are *Entry
	items    map[string]*list.Element
	revision uint64

	bus    *bus.Bus
	logger *zap.Logger
}

// NewCache creates a Cache. capacity <= 0 selects the default of 20.
func NewCache(b *bus.Bus, logger *zap.Logger, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		bus:      b,
		logger:   logger,
	}
}

// UpsertBatch inserts or refreshes each contact, resetting its recency. Each
// affected contact's own topic is published; subscribers bound to other
// contacts see nothing.
func (c *Cache) UpsertBatch(contacts []model.Contact) {
	for i := range contacts {
		c.upsert(&contacts[i])
	}
}

// UpdateStatus sets the presence of a cached contact and republishes only that
// contact's topic. Returns ErrUnknownContact if the contact is not cached.
func (c *Cache) UpdateStatus(userID string, presence model.Presence) error {
	c.mu.Lock()
	elem, ok := c.items[userID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("presence update for unknown contact",
			zap.String("user_id", userID), zap.String("presence", string(presence)))
		return ErrUnknownContact
	}

	contact := elem.Value.(*Entry).Contact // copy
	contact.Status = presence
	entry := c.install(elem, contact)
	c.mu.Unlock()

	c.publish(entry)
	return nil
}

// Get returns the cached entry for userID, counting as a recency touch.
func (c *Cache) Get(userID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[userID]
	if !ok {
		return Entry{}, false
	}
	c.order.MoveToFront(elem)
	return *elem.Value.(*Entry), true
}

// Snapshot returns the currently cached contacts in no particular order. It
// does not touch recency and never evicts.
func (c *Cache) Snapshot() []model.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	contacts := make([]model.Contact, 0, len(c.items))
	for _, elem := range c.items {
		contacts = append(contacts, elem.Value.(*Entry).Contact)
	}
	return contacts
}

// Len returns the number of cached contacts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Topic returns the bus topic carrying one contact's Entry updates.
func Topic(userID string) string {
	return bus.TopicPresence + userID
}

func (c *Cache) upsert(contact *model.Contact) {
	c.mu.Lock()
	var entry Entry
	if elem, ok := c.items[contact.UserID]; ok {
		entry = c.install(elem, *contact)
	} else {
		c.revision++
		e := &Entry{Contact: *contact, Revision: c.revision}
		c.items[contact.UserID] = c.order.PushFront(e)
		entry = *e
		if c.order.Len() > c.capacity {
			c.evictOldest()
		}
	}
	c.mu.Unlock()

	c.publish(entry)
}

// install replaces the entry held by elem with a fresh copy and touches
// recency. Caller holds c.mu.
func (c *Cache) install(elem *list.Element, contact model.Contact) Entry {
	c.revision++
	e := &Entry{Contact: contact, Revision: c.revision}
	elem.Value = e
	c.order.MoveToFront(elem)
	return *e
}

// evictOldest drops the back of the recency list. Caller holds c.mu.
func (c *Cache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	evicted := elem.Value.(*Entry)
	c.order.Remove(elem)
	delete(c.items, evicted.Contact.UserID)
	c.logger.Debug("contact evicted from presence cache",
		zap.String("user_id", evicted.Contact.UserID))
}

func (c *Cache) publish(entry Entry) {
	c.bus.Publish(bus.Event{
		Topic:     Topic(entry.Contact.UserID),
		Timestamp: time.Now(),
		Payload:   entry,
	})
}
