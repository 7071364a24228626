package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxChatContentLen = 4000

// ChatMessage is one chat line. Timestamp is unix milliseconds, monotonic per sender.
type ChatMessage struct {
	ID        string   `json:"id" msgpack:"id"`
	Content   string   `json:"content" msgpack:"content"`
	SenderID  MemberID `json:"senderId" msgpack:"senderId"`
	Timestamp int64    `json:"timestamp" msgpack:"timestamp"`
	Local     bool     `json:"-" msgpack:"-"`
}

// NewChatMessage trims and validates content and assigns a fresh id.
func NewChatMessage(sender MemberID, content string, ts int64) (ChatMessage, error) {
	content = strings.TrimSpace(content)
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Content:   content,
		SenderID:  sender,
		Timestamp: ts,
		Local:     true,
	}
	if err := msg.Validate(); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

func (m ChatMessage) Validate() error {
	if m.ID == "" || m.SenderID == "" || m.Timestamp <= 0 {
		return ErrMalformedEnvelope
	}
	if m.Content == "" {
		return ErrChatContentEmpty
	}
	if len([]rune(m.Content)) > MaxChatContentLen {
		return ErrChatContentTooLong
	}
	return nil
}

// Before orders messages by timestamp with sender id as tie-break, then by id.
func (m ChatMessage) Before(o ChatMessage) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	if m.SenderID != o.SenderID {
		return m.SenderID < o.SenderID
	}
	return m.ID < o.ID
}

func (m ChatMessage) Time() time.Time { return time.UnixMilli(m.Timestamp) }
