// Package chat defines the transport-neutral message types shared by the
// coordinator components.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Validation errors.
var (
	ErrEmptyChannel = errors.New("channel_id is required")
	ErrInvalidKey   = errors.New("conversation key is malformed")
)

// MaxKeyLen bounds the canonical conversation key.
const MaxKeyLen = 256

// Key identifies one conversation: a channel plus an optional thread.
type Key struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// NewKey builds a conversation key.
func NewKey(channelID, threadID string) Key {
	return Key{ChannelID: channelID, ThreadID: threadID}
}

// String returns the canonical identity used by all per-conversation state:
// "channel:thread", or just "channel" when there is no thread.
func (k Key) String() string {
	if k.ThreadID == "" {
		return k.ChannelID
	}
	return k.ChannelID + ":" + k.ThreadID
}

// ParseKey reverses Key.String.
func ParseKey(s string) Key {
	channel, thread, _ := strings.Cut(s, ":")
	return Key{ChannelID: channel, ThreadID: thread}
}

// MessageReceived is an inbound chat event.
type MessageReceived struct {
	ChannelID string   `json:"channel_id"`
	ThreadID  string   `json:"thread_id,omitempty"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions,omitempty"`
	SenderID  string   `json:"sender_id"`
}

// Key returns the conversation key of the message.
func (m MessageReceived) Key() Key {
	return NewKey(m.ChannelID, m.ThreadID)
}

// Validate checks required fields and that the key is printable UTF-8 of at
// most MaxKeyLen bytes.
func (m MessageReceived) Validate() error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return ErrEmptyChannel
	}
	key := m.Key().String()
	if len(key) > MaxKeyLen || !utf8.ValidString(key) {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidKey
		}
	}
	return nil
}

// Role is the speaker of a history message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Outbound is a message to be delivered by the transport.
type Outbound struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Text      string `json:"text"`
	SenderID  string `json:"sender_id"`
}
