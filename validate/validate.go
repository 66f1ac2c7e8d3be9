//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package validate normalizes conversation history into the role-alternating
// shape providers require, and classifies provider errors into the categories
// the orchestrator acts on.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/model"
)

// CleanHistory prepares conversation history for a provider call. It strips
// the synthetic welcome message, empty and placeholder entries, and entries
// still carrying file attachments, then repairs strict user/assistant
// alternation by dropping any entry that would repeat the previous role.
// The result always starts with a user turn and never holds two consecutive
// same-role turns; violating entries are dropped, never reordered.
func CleanHistory(messages []chat.Message) []model.Turn {
	var turns []model.Turn
	expected := model.RoleUser
	for i := range messages {
		msg := &messages[i]
		if msg.ID == chat.WelcomeMessageID {
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" || text == chat.PlaceholderText {
			continue
		}
		if msg.FileInfo != nil {
			continue
		}
		role := model.RoleAssistant
		if msg.Sender == chat.SenderUser {
			role = model.RoleUser
		}
		if role != expected {
			continue
		}
		turns = append(turns, model.Turn{Role: role, Text: text})
		if expected == model.RoleUser {
			expected = model.RoleAssistant
		} else {
			expected = model.RoleUser
		}
	}
	return turns
}

// ValidateRoleSequence checks a message sequence against the provider
// role-alternation rules and reports each violation. Diagnostic only; use
// CleanHistory to repair.
func ValidateRoleSequence(messages []chat.Message) (bool, []string) {
	var problems []string
	for i := 1; i < len(messages); i++ {
		if messages[i].Sender == messages[i-1].Sender {
			problems = append(problems,
				fmt.Sprintf("consecutive %s messages at position %d", messages[i].Sender, i))
		}
	}
	first := -1
	for i := range messages {
		if messages[i].ID != chat.WelcomeMessageID {
			first = i
			break
		}
	}
	if first >= 0 && messages[first].Sender != chat.SenderUser {
		problems = append(problems, "conversation must start with a user message")
	}
	return len(problems) == 0, problems
}

// Kind is the error category the orchestrator acts on.
type Kind int

const (
	// KindUnknown is any failure not matched by a more specific category.
	KindUnknown Kind = iota
	// KindConfig covers missing or invalid credentials. Never retried.
	KindConfig
	// KindQuota covers quota and rate-limit rejections.
	KindQuota
	// KindMalformed covers bad requests and unsupported file formats.
	KindMalformed
	// KindNetwork covers connectivity failures.
	KindNetwork
	// KindTimeout covers deadline expiry. Settled like a cancellation.
	KindTimeout
	// KindCancelled covers user-initiated stops. Never surfaced as an error.
	KindCancelled
	// KindProtocol covers provider-side protocol rejections such as
	// role-alternation violations. Logged distinctly, handled generically.
	KindProtocol
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindQuota:
		return "quota"
	case KindMalformed:
		return "malformed"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Classify maps an error to its category. Context sentinels are matched
// structurally; everything else falls back to message-pattern matching, the
// only signal most provider SDKs expose.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "first content should be with role", "role alternation", "must alternate"):
		return KindProtocol
	case containsAny(msg, "cancel", "abort"):
		return KindCancelled
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return KindTimeout
	case containsAny(msg, "api key", "credential", "unauthenticated", "unauthorized", "not configured", "authentication"):
		return KindConfig
	case containsAny(msg, "quota", "rate limit", "too many requests", "resource exhausted", "429"):
		return KindQuota
	case containsAny(msg, "unsupported_file_format", "unsupported file", "unsupported attachment", "malformed", "bad request", "invalid argument", "400"):
		return KindMalformed
	case containsAny(msg, "network", "connection refused", "connection reset", "no such host", "dial tcp", "broken pipe"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// UserMessage renders the user-facing notification text for an error,
// keeping provider internals out of the UI.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindConfig:
		return "Configuration error: " + err.Error()
	case KindQuota:
		return "Quota exceeded, check your API usage"
	case KindMalformed:
		return "The request or file format was not accepted"
	case KindNetwork:
		return "Connection error, check your internet connection"
	case KindTimeout:
		return "The operation took too long and was cancelled"
	case KindCancelled:
		return "Generation cancelled"
	case KindProtocol:
		return "The message could not be sent"
	default:
		return "The message could not be sent"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
