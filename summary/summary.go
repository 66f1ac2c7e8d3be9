//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package summary implements the rolling-summary memory system that keeps
// long conversations bounded: it decides when a conversation needs
// compaction, builds the compaction prompt, and supplies the enriched
// message list and system instruction used for generation.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/model"
)

const (
	// MessagesThreshold is how many new messages must accumulate before a
	// summary is created or updated.
	MessagesThreshold = 10
	// RecentMessagesCount is how many trailing messages are kept verbatim
	// and never folded into the summary.
	RecentMessagesCount = 5
	// MaxSummaryLength is the hard character cap on a generated summary.
	MaxSummaryLength = 500

	// messageExcerptLength caps each message excerpt inside the prompt.
	messageExcerptLength = 200

	// staleAfter is the advisory age past which a summary is eligible for
	// cleanup. Nothing deletes summaries automatically.
	staleAfter = 7 * 24 * time.Hour

	// contextMarker prefixes the synthetic summary message so providers do
	// not mistake it for a real turn.
	contextMarker = "[PRIOR CONTEXT]: "
)

// Summarizer produces and maintains conversation summaries through a
// single-shot text generator.
type Summarizer struct {
	generator model.Generator
}

// NewSummarizer creates a summarizer backed by the given generator.
func NewSummarizer(generator model.Generator) *Summarizer {
	return &Summarizer{generator: generator}
}

// Needs reports whether the conversation has accumulated enough new messages
// for a summary pass: the threshold from zero when no summary exists, or the
// threshold past the messages already folded in.
func Needs(conv *chat.Conversation, existing *chat.ConversationSummary) bool {
	count := len(conv.Messages)
	if existing == nil {
		return count >= MessagesThreshold
	}
	return count >= existing.MessageCount+MessagesThreshold
}

// Generate produces the summary text for a conversation, folding in every
// message not yet covered while leaving the trailing RecentMessagesCount
// untouched. The result is hard-truncated to MaxSummaryLength characters
// with a trailing ellipsis when truncation occurred.
func (s *Summarizer) Generate(ctx context.Context, conv *chat.Conversation, existing *chat.ConversationSummary) (string, error) {
	prompt := buildPrompt(messagesToSummarize(conv, existing), existing, conv.Personality)

	text, err := s.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate summary for conversation %s: %w", conv.ID, err)
	}
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > MaxSummaryLength {
		text = string(runes[:MaxSummaryLength]) + "..."
	}
	return text, nil
}

// New builds the summary record for freshly generated text, bumping the
// version when a prior summary exists.
func New(conversationID, text string, messageCount int, existing *chat.ConversationSummary) chat.ConversationSummary {
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}
	return chat.ConversationSummary{
		ID:             fmt.Sprintf("summary_%s_%s", conversationID, uuid.NewString()),
		ConversationID: conversationID,
		Summary:        text,
		MessageCount:   messageCount,
		LastUpdated:    time.Now(),
		Version:        version,
	}
}

// messagesToSummarize selects the slice of messages not yet folded in,
// always excluding the trailing recent window.
func messagesToSummarize(conv *chat.Conversation, existing *chat.ConversationSummary) []chat.Message {
	end := len(conv.Messages) - RecentMessagesCount
	if end <= 0 {
		return nil
	}
	start := 0
	if existing != nil {
		start = existing.MessageCount
	}
	if start >= end {
		return nil
	}
	return conv.Messages[start:end]
}

func buildPrompt(messages []chat.Message, existing *chat.ConversationSummary, personality chat.Personality) string {
	var b strings.Builder

	if existing != nil {
		fmt.Fprintf(&b, "Previous summary of the conversation:\n%s\n\n", existing.Summary)
		b.WriteString("Update this summary with the following additional messages:\n\n")
	} else {
		b.WriteString("Create a concise, useful summary of the following conversation. " +
			"The summary must capture the main topics, important decisions, and any " +
			"context useful for future interactions.\n\n")
	}

	for i := range messages {
		msg := &messages[i]
		sender := "Assistant"
		if msg.Sender == chat.SenderUser {
			sender = "User"
		}
		excerpt := msg.Text
		if len(excerpt) > messageExcerptLength {
			excerpt = excerpt[:messageExcerptLength] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", sender, excerpt)
	}
	b.WriteString("\n")

	if existing != nil {
		b.WriteString("Provide an updated summary that integrates the previous information with the new messages. ")
	} else {
		b.WriteString("Provide a summary capturing the key points, topics discussed, and anything important the assistant should remember. ")
	}
	fmt.Fprintf(&b, "Keep the summary concise but informative (at most %d characters). ", MaxSummaryLength)
	fmt.Fprintf(&b, "The assistant is configured with the %q personality.", personality)

	return b.String()
}

// EnrichedContext returns the message list actually sent to a provider: the
// raw list when no summary exists or the conversation is short, otherwise a
// synthetic AI-authored context message followed by the recent window.
func EnrichedContext(conv *chat.Conversation, sum *chat.ConversationSummary) []chat.Message {
	if sum == nil || len(conv.Messages) <= RecentMessagesCount {
		out := make([]chat.Message, len(conv.Messages))
		copy(out, conv.Messages)
		return out
	}
	out := make([]chat.Message, 0, RecentMessagesCount+1)
	out = append(out, chat.Message{
		ID:     "summary_" + sum.ID,
		Sender: chat.SenderAI,
		Text:   contextMarker + sum.Summary,
	})
	out = append(out, conv.Messages[len(conv.Messages)-RecentMessagesCount:]...)
	return out
}

// EnrichedSystemInstruction appends a delimited context block carrying the
// summary to the personality's base instruction. Identity when no summary
// exists.
func EnrichedSystemInstruction(base string, sum *chat.ConversationSummary) string {
	if sum == nil {
		return base
	}
	return base + "\n\nCONTEXT FROM THE PREVIOUS CONVERSATION:\n" + sum.Summary +
		"\n\nUse this context to keep coherence and continuity in the current " +
		"conversation. Refer to previous topics when relevant, but do not repeat " +
		"information unnecessarily."
}

// ShouldCleanup reports whether a summary is stale enough to be eligible for
// cleanup. Advisory only.
func ShouldCleanup(sum *chat.ConversationSummary) bool {
	return time.Since(sum.LastUpdated) > staleAfter
}

// stopWords are common filler words excluded from topic extraction.
var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "because": {}, "before": {}, "could": {},
	"should": {}, "their": {}, "there": {}, "these": {}, "thing": {},
	"think": {}, "those": {}, "where": {}, "which": {}, "while": {},
	"would": {}, "right": {}, "really": {},
}

// ExtractTopics ranks the most frequent meaningful words of a summary for
// search and indexing. Words of four characters or fewer and stop words are
// dropped; ties keep first-seen order; at most five topics are returned.
func ExtractTopics(text string) []string {
	normalized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)

	counts := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(normalized) {
		if len(word) <= 4 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	// Stable selection sort over first-seen order keeps ties deterministic.
	topics := make([]string, 0, 5)
	used := make(map[string]bool)
	for len(topics) < 5 {
		best := ""
		for _, word := range order {
			if used[word] {
				continue
			}
			if best == "" || counts[word] > counts[best] {
				best = word
			}
		}
		if best == "" {
			break
		}
		used[best] = true
		topics = append(topics, best)
	}
	return topics
}
