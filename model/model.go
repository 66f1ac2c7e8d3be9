//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package model defines the unified streaming-generation contract shared by
// all provider adapters, and the tagged event union flowing out of a stream.
package model

import (
	"context"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/tool"
)

// Role is a provider-facing conversation role.
type Role string

const (
	// RoleUser is the user role in provider wire formats.
	RoleUser Role = "user"
	// RoleAssistant is the assistant/model role in provider wire formats.
	RoleAssistant Role = "assistant"
)

// Turn is one cleaned history entry in provider-neutral form.
type Turn struct {
	Role Role
	Text string
}

// ToolCall is a provider-issued request to invoke a named function with
// JSON-encoded arguments.
type ToolCall struct {
	// ID is the provider's identifier for the call. Session-style providers
	// do not issue ids; adapters synthesize one so result pairing stays uniform.
	ID string
	// Name is the function name to invoke.
	Name string
	// Arguments is the JSON-encoded argument object.
	Arguments []byte
}

// ToolResult answers one ToolCall. Content carries the formatted text form
// used by chat-completion providers; Response carries the structured form
// used by session providers. Adapters read whichever their protocol needs.
type ToolResult struct {
	CallID   string
	Name     string
	Content  string
	Response map[string]any
}

// ToolRound is one completed call/response exchange within the current turn.
type ToolRound struct {
	// Text is the assistant text streamed before the calls were issued.
	// May be empty.
	Text string
	// Calls is the batch the provider requested in this round.
	Calls []ToolCall
	// Results answer Calls, in the same order.
	Results []ToolResult
}

// Request carries everything an adapter needs for one provider invocation.
type Request struct {
	// Model is the provider-side model name.
	Model string
	// SystemInstruction is the (possibly summary-enriched) system prompt.
	SystemInstruction string
	// History is the cleaned, strictly alternating prior conversation. It
	// never includes the welcome message, placeholders or attachment turns.
	History []Turn
	// UserText is the new user turn.
	UserText string
	// Attachment is the optional file payload for the new turn.
	Attachment *chat.Attachment
	// Tools are the tool declarations offered to the provider.
	Tools []*tool.Declaration
	// ToolRounds, when non-empty, are every completed tool exchange of the
	// turn in flight, oldest first. The adapter replays them all so the
	// provider sees the complete turn, then continues generation from the
	// last round's results.
	ToolRounds []ToolRound
}

// Event is the tagged union of stream outputs. Exactly three variants exist:
// TextDelta, ToolCallBatch and StreamError. A stream is a finite, consume-once
// sequence; the channel is closed after the last event, and a StreamError is
// always terminal.
type Event interface {
	event()
}

// TextDelta is an incremental piece of assistant text.
type TextDelta struct {
	Text string
}

// ToolCallBatch is one or more fully assembled tool calls. Chat-completion
// adapters emit it once, after the underlying stream has completed; session
// adapters emit it as soon as a chunk carries calls.
type ToolCallBatch struct {
	Calls []ToolCall
}

// StreamError reports a mid-stream failure. It is always the last event.
type StreamError struct {
	Err error
}

func (TextDelta) event()     {}
func (ToolCallBatch) event() {}
func (StreamError) event()   {}

// Provider is the single streaming-generation contract implemented by every
// adapter. The returned channel yields events in stream-arrival order and is
// closed when the stream ends; adapters stop producing promptly once ctx is
// cancelled.
type Provider interface {
	GenerateStream(ctx context.Context, req *Request) (<-chan Event, error)
}

// Generator produces a single non-streamed completion. Used for background
// work such as summarization.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// FileAnalyzer performs a single-shot multimodal analysis of an attachment and
// streams back text deltas only.
type FileAnalyzer interface {
	AnalyzeFile(ctx context.Context, prompt string, attachment *chat.Attachment, systemInstruction string) (<-chan Event, error)
}
