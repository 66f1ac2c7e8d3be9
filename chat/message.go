//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package chat defines the conversation domain types and the in-memory
// conversation store that acts as the single source of truth for all
// conversation, message and summary state.
package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks a message written by the user.
	SenderUser Sender = "user"
	// SenderAI marks a message produced by the assistant.
	SenderAI Sender = "ai"
)

const (
	// WelcomeMessageID is the fixed id of the synthetic welcome message that
	// seeds every conversation. It is never sent to a provider.
	WelcomeMessageID = "initial-message"

	// PlaceholderText is the provisional text of an assistant message while a
	// generation turn is still streaming into it.
	PlaceholderText = "..."

	// CancelledText is the final text of an assistant message whose turn was
	// cancelled by the user or by the turn timeout.
	CancelledText = "Generation cancelled."

	// MaxAttachmentSize is the hard ceiling for attachment payloads, enforced
	// both when the message is drafted and again at the provider boundary.
	MaxAttachmentSize = 20 * 1024 * 1024
)

// FileInfo describes an attachment without carrying its payload.
type FileInfo struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Attachment is a raw file payload handed to a generation turn. The raw bytes
// are never persisted; only the base64 form stored on the message survives.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ErrAttachmentTooLarge is returned when an attachment exceeds MaxAttachmentSize.
var ErrAttachmentTooLarge = fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentSize)

// ErrAttachmentEmpty is returned for zero-length attachments.
var ErrAttachmentEmpty = errors.New("attachment is empty")

// ErrAttachmentType is returned for attachment types other than images and PDFs.
var ErrAttachmentType = errors.New("unsupported attachment type (image/* or application/pdf)")

// Validate checks the attachment against the upload constraints.
func (a *Attachment) Validate() error {
	if len(a.Data) == 0 {
		return ErrAttachmentEmpty
	}
	if len(a.Data) > MaxAttachmentSize {
		return ErrAttachmentTooLarge
	}
	if !strings.HasPrefix(a.MIMEType, "image/") && a.MIMEType != "application/pdf" {
		return ErrAttachmentType
	}
	return nil
}

// IsImage reports whether the attachment carries an image payload.
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// Encode returns the base64 form of the payload for persistence.
func (a *Attachment) Encode() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// Info returns the payload-free description of the attachment.
func (a *Attachment) Info() *FileInfo {
	return &FileInfo{Name: a.Name, MIMEType: a.MIMEType, Size: int64(len(a.Data))}
}

// DecodeAttachment rebuilds an attachment from its persisted base64 form.
// A decode failure is surfaced to the caller, not swallowed: a message that
// claims an attachment but cannot produce one is a user-visible failure.
func DecodeAttachment(encoded, name, mimeType string) (*Attachment, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %q: %w", name, err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &Attachment{Name: name, MIMEType: mimeType, Data: data}, nil
}

// Message is a single conversation entry. Text is mutable while a turn is
// streaming. Encoded holds the base64 attachment payload; it is the only form
// of the attachment that is ever persisted.
type Message struct {
	ID       string    `json:"id"`
	Sender   Sender    `json:"sender"`
	Text     string    `json:"text"`
	FileInfo *FileInfo `json:"file_info,omitempty"`
	Encoded  string    `json:"encoded,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
}

// HasAttachment reports whether the message carries a persisted attachment.
func (m *Message) HasAttachment() bool {
	return m.FileInfo != nil && m.Encoded != ""
}

// Attachment rebuilds the raw attachment from the message's encoded payload.
func (m *Message) Attachment() (*Attachment, error) {
	if m.FileInfo == nil || m.Encoded == "" {
		return nil, errors.New("message has no attachment")
	}
	return DecodeAttachment(m.Encoded, m.FileInfo.Name, m.FileInfo.MIMEType)
}
