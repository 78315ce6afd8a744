package bus

import "time"

// Topic prefixes used across the engine. Per-entity topics append the entity
// id, e.g. TopicPresence + userID.
const (
	TopicConnState  = "conn.state"
	TopicMessages   = "message.updated."
	TopicPresence   = "presence."
	TopicContacts   = "contacts.synced"
	TopicSendFailed = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}
