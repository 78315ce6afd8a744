package model

// MessageKind is the wire-level message content type.
type MessageKind int

const (
	KindText  MessageKind = 1
	KindImage MessageKind = 2
	KindFile  MessageKind = 3
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending MessageStatus = "SENDING"
	StatusSent    MessageStatus = "SENT"
	StatusRead    MessageStatus = "READ"
	StatusFailed  MessageStatus = "FAILED"
)

// Presence is the online state of a contact.
type Presence string

const (
	PresenceOnline  Presence = "ONLINE"
	PresenceOffline Presence = "OFFLINE"
)

// Contact types as carried by the directory API.
const (
	ContactTypeUser  = 1
	ContactTypeGroup = 2
)

// Message is a chat message as exchanged with the server and persisted locally.
type Message struct {
	ID           string        `json:"messageId"`
	Kind         MessageKind   `json:"messageType"`
	GroupMessage bool          `json:"isGroupMessage"`
	Content      string        `json:"content"`
	SenderID     string        `json:"senderId"`
	SenderName   string        `json:"senderName"`
	SenderAvatar string        `json:"senderAvatar"`
	ReceiverID   string        `json:"receiverId"`
	Status       MessageStatus `json:"status"`
	SendTime     int64         `json:"sendTime"`
}

// ConversationKey resolves the conversation a message belongs to, as seen by
// currentUserID. Messages addressed to the current user file under the sender;
// everything else files under the receiver. A group id is the receiver for all
// members, so both the sender's and the receivers' logs share the group key.
func (m *Message) ConversationKey(currentUserID string) string {
	if m.ReceiverID == currentUserID {
		return m.SenderID
	}
	return m.ReceiverID
}

// FromMe reports whether the message was sent by the given user.
func (m *Message) FromMe(userID string) bool {
	return m.SenderID == userID
}

// Contact is a directory entry.
type Contact struct {
	UserID      string   `json:"userId"`
	Type        int      `json:"type"`
	Name        string   `json:"name"`
	Avatar      string   `json:"avatar"`
	Status      Presence `json:"status"`
	UnreadCount int      `json:"unreadCount"`
}

// IsGroup reports whether the contact is a group conversation.
func (c *Contact) IsGroup() bool {
	return c.Type == ContactTypeGroup
}

// IsOnline reports whether the contact is currently online.
func (c *Contact) IsOnline() bool {
	return c.Status == PresenceOnline
}

// User is the authenticated account record.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Nickname         string `json:"nickname"`
	Avatar           string `json:"avatar"`
	MobilePhone      string `json:"mobilePhone,omitempty"`
	Password         string `json:"password,omitempty"`
	Enabled          bool   `json:"enabled"`
	RegistrationTime int64  `json:"registrationTime,omitempty"`
}
