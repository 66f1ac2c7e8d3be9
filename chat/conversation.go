//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package chat

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTitle is the title of a conversation before its first user turn.
	DefaultTitle = "New conversation"

	// maxTitleLength is the rune cap applied when deriving a title from the
	// first user message.
	maxTitleLength = 40
)

// Conversation is an ordered sequence of messages plus its bookkeeping data.
// Message order is conversation order; messages are append-only except for the
// truncation performed by edit and regenerate.
type Conversation struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Messages     []Message   `json:"messages"`
	LastModified time.Time   `json:"last_modified"`
	Personality  Personality `json:"personality"`

	// Seq is the creation sequence number, used as the deterministic
	// tie-break when two conversations share a LastModified timestamp.
	Seq int `json:"seq"`
}

// TitleFromText derives a conversation title from the first user message,
// truncated to 40 runes.
func TitleFromText(text string) string {
	runes := []rune(text)
	if len(runes) > maxTitleLength {
		runes = runes[:maxTitleLength]
	}
	title := strings.TrimSpace(string(runes))
	if title == "" {
		return DefaultTitle
	}
	return title
}

// HasUserMessage reports whether the conversation contains at least one user turn.
func (c *Conversation) HasUserMessage() bool {
	for i := range c.Messages {
		if c.Messages[i].Sender == SenderUser {
			return true
		}
	}
	return false
}

// LastUserMessage returns the most recent user message, if any.
func (c *Conversation) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Sender == SenderUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// LastAIText returns the text of the most recent assistant message.
func (c *Conversation) LastAIText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Sender == SenderAI {
			return c.Messages[i].Text
		}
	}
	return ""
}

// MessageIndex returns the position of the message with the given id, or -1.
func (c *Conversation) MessageIndex(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// clone returns a copy of the conversation with its own message slice.
func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

var titleSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// ExportText renders the conversation as a plain-text transcript suitable for
// download. The synthetic welcome message is excluded.
func ExportText(c *Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation: %s\n", c.Title)
	fmt.Fprintf(&b, "AI personality: %s\n", Config(c.Personality).Name)
	fmt.Fprintf(&b, "Date: %s\n\n---\n\n", c.LastModified.Format(time.RFC1123))

	var blocks []string
	for i := range c.Messages {
		msg := &c.Messages[i]
		if msg.ID == WelcomeMessageID {
			continue
		}
		sender := "Bot"
		if msg.Sender == SenderUser {
			sender = "You"
		}
		var block strings.Builder
		fmt.Fprintf(&block, "%s:\n", sender)
		if msg.FileInfo != nil {
			fmt.Fprintf(&block, "[Attached file: %s]\n", msg.FileInfo.Name)
		}
		block.WriteString(msg.Text)
		block.WriteString("\n")
		blocks = append(blocks, block.String())
	}
	b.WriteString(strings.Join(blocks, "\n---\n\n"))
	return b.String()
}

// ExportFilename builds a filesystem-safe filename for an exported conversation.
func ExportFilename(c *Conversation) string {
	sanitized := strings.Trim(titleSanitizer.ReplaceAllString(strings.ToLower(c.Title), "_"), "_")
	if sanitized == "" {
		sanitized = "chat"
	}
	return "conversation_" + sanitized + ".txt"
}
