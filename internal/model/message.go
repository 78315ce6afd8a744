package model

import (
	"time"

	"github.com/google/uuid"
)

// NewTextMessage composes an outgoing text message from sender to receiver.
func NewTextMessage(content string, sender *User, receiver *Contact) *Message {
	return newMessage(KindText, content, sender, receiver)
}

// NewImageMessage composes an outgoing image message. Content carries the
// uploaded image URL.
func NewImageMessage(content string, sender *User, receiver *Contact) *Message {
	return newMessage(KindImage, content, sender, receiver)
}

// NewFileMessage composes an outgoing file message. Content carries the
// uploaded file URL.
func NewFileMessage(content string, sender *User, receiver *Contact) *Message {
	return newMessage(KindFile, content, sender, receiver)
}

func newMessage(kind MessageKind, content string, sender *User, receiver *Contact) *Message {
	return &Message{
		ID:           uuid.NewString(),
		Kind:         kind,
		GroupMessage: receiver.IsGroup(),
		Content:      content,
		SenderID:     sender.ID,
		SenderName:   sender.Nickname,
		SenderAvatar: sender.Avatar,
		ReceiverID:   receiver.UserID,
		Status:       StatusSending,
		SendTime:     time.Now().Unix(),
	}
}
