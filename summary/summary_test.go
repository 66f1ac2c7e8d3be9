//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/vortex-chat/chat"
)

// stubGenerator returns a fixed completion and records the prompt.
type stubGenerator struct {
	response string
	err      error
	prompt   string
}

func (g *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.response, g.err
}

func conversationWith(n int) *chat.Conversation {
	conv := &chat.Conversation{ID: "c1", Personality: chat.PersonalityFlash}
	for i := 0; i < n; i++ {
		sender := chat.SenderUser
		if i%2 == 1 {
			sender = chat.SenderAI
		}
		conv.Messages = append(conv.Messages, chat.Message{
			ID:     fmt.Sprintf("m%d", i),
			Sender: sender,
			Text:   fmt.Sprintf("message %d", i),
		})
	}
	return conv
}

func TestNeeds(t *testing.T) {
	assert.False(t, Needs(conversationWith(9), nil))
	assert.True(t, Needs(conversationWith(10), nil))

	existing := &chat.ConversationSummary{MessageCount: 10}
	assert.False(t, Needs(conversationWith(19), existing))
	assert.True(t, Needs(conversationWith(20), existing))
}

func TestGenerateTruncatesLongSummaries(t *testing.T) {
	gen := &stubGenerator{response: strings.Repeat("x", MaxSummaryLength+100)}
	s := NewSummarizer(gen)

	text, err := s.Generate(context.Background(), conversationWith(12), nil)
	require.NoError(t, err)
	assert.Len(t, text, MaxSummaryLength+3)
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestGenerateTruncatesOnRuneBoundaries(t *testing.T) {
	gen := &stubGenerator{response: strings.Repeat("日", MaxSummaryLength+100)}
	s := NewSummarizer(gen)

	text, err := s.Generate(context.Background(), conversationWith(12), nil)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(text), "truncation must not split a rune")
	assert.Equal(t, MaxSummaryLength+3, utf8.RuneCountInString(text))
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestGeneratePromptExcludesRecentMessages(t *testing.T) {
	gen := &stubGenerator{response: "short"}
	s := NewSummarizer(gen)
	conv := conversationWith(12)

	_, err := s.Generate(context.Background(), conv, nil)
	require.NoError(t, err)

	// The trailing five messages stay verbatim and are never folded in.
	assert.Contains(t, gen.prompt, "message 6")
	assert.NotContains(t, gen.prompt, "message 7")
	assert.NotContains(t, gen.prompt, "message 11")
}

func TestGenerateIncludesPriorSummary(t *testing.T) {
	gen := &stubGenerator{response: "updated"}
	s := NewSummarizer(gen)
	existing := &chat.ConversationSummary{Summary: "they planned a trip", MessageCount: 2}

	_, err := s.Generate(context.Background(), conversationWith(12), existing)
	require.NoError(t, err)
	assert.Contains(t, gen.prompt, "they planned a trip")
	assert.NotContains(t, gen.prompt, "message 0", "already summarized messages are not re-sent")
}

func TestGenerateSurfacesError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("boom")}
	s := NewSummarizer(gen)

	_, err := s.Generate(context.Background(), conversationWith(12), nil)
	assert.Error(t, err)
}

func TestNewBumpsVersion(t *testing.T) {
	first := New("c1", "text", 10, nil)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "c1", first.ConversationID)

	second := New("c1", "more", 20, &first)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 20, second.MessageCount)
}

func TestEnrichedContextWithoutSummary(t *testing.T) {
	conv := conversationWith(8)
	out := EnrichedContext(conv, nil)
	assert.Len(t, out, 8)
}

func TestEnrichedContextInjectsSummaryMessage(t *testing.T) {
	conv := conversationWith(12)
	sum := &chat.ConversationSummary{ID: "s1", Summary: "earlier context"}

	out := EnrichedContext(conv, sum)
	require.Len(t, out, RecentMessagesCount+1)
	assert.Equal(t, chat.SenderAI, out[0].Sender)
	assert.True(t, strings.HasPrefix(out[0].Text, "[PRIOR CONTEXT]: "))
	assert.Contains(t, out[0].Text, "earlier context")
	assert.Equal(t, "message 7", out[1].Text)
	assert.Equal(t, "message 11", out[len(out)-1].Text)
}

func TestEnrichedContextShortConversation(t *testing.T) {
	conv := conversationWith(3)
	sum := &chat.ConversationSummary{ID: "s1", Summary: "ctx"}
	out := EnrichedContext(conv, sum)
	assert.Len(t, out, 3)
}

func TestEnrichedSystemInstruction(t *testing.T) {
	base := "You are helpful."
	assert.Equal(t, base, EnrichedSystemInstruction(base, nil))

	sum := &chat.ConversationSummary{Summary: "user likes cats"}
	out := EnrichedSystemInstruction(base, sum)
	assert.True(t, strings.HasPrefix(out, base))
	assert.Contains(t, out, "user likes cats")
}

func TestExtractTopics(t *testing.T) {
	text := "kubernetes deployment failed because kubernetes ingress routing " +
		"and deployment pipeline were misconfigured"
	topics := ExtractTopics(text)
	require.NotEmpty(t, topics)
	assert.Equal(t, "kubernetes", topics[0])
	assert.Contains(t, topics, "deployment")
	assert.NotContains(t, topics, "because")
	assert.LessOrEqual(t, len(topics), 5)
}

func TestExtractTopicsDropsShortWords(t *testing.T) {
	topics := ExtractTopics("go is fun and fast")
	assert.Empty(t, topics)
}
