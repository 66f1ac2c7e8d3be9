//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package chat

import "time"

// ConversationSummary is the rolling compaction of a conversation's older
// turns. At most one summary exists per conversation, keyed by conversation
// id. MessageCount records how many source messages have been folded in;
// Version increments on every update.
type ConversationSummary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	MessageCount   int       `json:"message_count"`
	LastUpdated    time.Time `json:"last_updated"`
	Version        int       `json:"version"`
}
