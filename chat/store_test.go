//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreSeedsConversation(t *testing.T) {
	s := NewStore()

	conv, ok := s.ActiveConversation()
	require.True(t, ok)
	assert.Equal(t, DefaultTitle, conv.Title)
	assert.Equal(t, DefaultPersonality, conv.Personality)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, WelcomeMessageID, conv.Messages[0].ID)
	assert.Equal(t, SenderAI, conv.Messages[0].Sender)
	assert.Equal(t, Config(DefaultPersonality).WelcomeMessage, conv.Messages[0].Text)
}

func TestNewConversationActivatesAndToasts(t *testing.T) {
	s := NewStore()
	first := s.ActiveID()

	conv := s.NewConversation(PersonalityDeveloper)

	assert.NotEqual(t, first, conv.ID)
	assert.Equal(t, conv.ID, s.ActiveID())
	assert.Equal(t, PersonalityDeveloper, conv.Personality)

	toast, ok := s.Toast()
	require.True(t, ok)
	assert.Equal(t, ToastSuccess, toast.Kind)
}

func TestDeleteSoleConversationIsNoop(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()

	assert.False(t, s.DeleteConversation(id))
	_, ok := s.Conversation(id)
	assert.True(t, ok)
}

func TestDeleteActivePicksMostRecentlyModified(t *testing.T) {
	s := NewStore()
	first := s.ActiveID()
	second := s.NewConversation(PersonalityFlash)
	third := s.NewConversation(PersonalityFlash)

	// Touch the oldest conversation so it becomes the most recently modified.
	s.AppendMessage(first, Message{ID: "m1", Sender: SenderUser, Text: "hi"})

	require.True(t, s.DeleteConversation(third.ID))
	assert.Equal(t, first, s.ActiveID())

	_, ok := s.Conversation(second.ID)
	assert.True(t, ok)
}

func TestRenameConversationBlankIsNoop(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()

	s.RenameConversation(id, "  ")
	conv, _ := s.Conversation(id)
	assert.Equal(t, DefaultTitle, conv.Title)

	s.RenameConversation(id, "Trip planning")
	conv, _ = s.Conversation(id)
	assert.Equal(t, "Trip planning", conv.Title)
}

func TestPatchMessage(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()
	s.AppendMessage(id, Message{ID: "ai-1", Sender: SenderAI, Text: PlaceholderText})

	text := "Hello there"
	require.True(t, s.PatchMessage(id, "ai-1", MessagePatch{Text: &text}))

	conv, _ := s.Conversation(id)
	assert.Equal(t, "Hello there", conv.Messages[len(conv.Messages)-1].Text)

	assert.False(t, s.PatchMessage(id, "missing", MessagePatch{Text: &text}))
}

func TestRemoveMessage(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()
	s.AppendMessage(id, Message{ID: "u1", Sender: SenderUser, Text: "hi"})
	s.AppendMessage(id, Message{ID: "a1", Sender: SenderAI, Text: "hello"})

	require.True(t, s.RemoveMessage(id, "u1"))
	require.True(t, s.RemoveMessage(id, "a1"))
	assert.False(t, s.RemoveMessage(id, "u1"))

	conv, _ := s.Conversation(id)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, WelcomeMessageID, conv.Messages[0].ID)
}

func TestLastImageMessageWindow(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()

	s.AppendMessage(id, Message{
		ID:       "img-old",
		Sender:   SenderUser,
		Text:     "look at this",
		FileInfo: &FileInfo{Name: "a.png", MIMEType: "image/png", Size: 10},
		Encoded:  "aGVsbG8=",
	})
	// Push the image out of the ten-message window.
	for i := 0; i < 10; i++ {
		s.AppendMessage(id, Message{ID: string(rune('a' + i)), Sender: SenderUser, Text: "filler"})
	}

	_, ok := s.LastImageMessage(id)
	assert.False(t, ok)

	s.AppendMessage(id, Message{
		ID:       "img-new",
		Sender:   SenderUser,
		Text:     "and this",
		FileInfo: &FileInfo{Name: "b.png", MIMEType: "image/png", Size: 10},
		Encoded:  "aGVsbG8=",
	})
	msg, ok := s.LastImageMessage(id)
	require.True(t, ok)
	assert.Equal(t, "img-new", msg.ID)
}

func TestLastImageMessageIgnoresNonImages(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()
	s.AppendMessage(id, Message{
		ID:       "pdf",
		Sender:   SenderUser,
		FileInfo: &FileInfo{Name: "doc.pdf", MIMEType: "application/pdf", Size: 10},
		Encoded:  "aGVsbG8=",
	})

	_, ok := s.LastImageMessage(id)
	assert.False(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	id := s.ActiveID()
	s.AppendMessage(id, Message{ID: "u1", Sender: SenderUser, Text: "remember me"})
	s.SetSummary(ConversationSummary{
		ID:             "sum-1",
		ConversationID: id,
		Summary:        "a summary",
		MessageCount:   2,
		Version:        1,
	})
	s.SetSearchEnabled(false)
	s.SetLoading(true)

	snap := s.Snapshot()

	restored := NewStore()
	restored.Restore(snap)

	assert.Equal(t, id, restored.ActiveID())
	assert.False(t, restored.SearchEnabled())
	assert.False(t, restored.IsLoading(), "ephemeral flags must not survive a snapshot")

	conv, ok := restored.Conversation(id)
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "remember me", conv.Messages[1].Text)

	sum, ok := restored.Summary(id)
	require.True(t, ok)
	assert.Equal(t, "a summary", sum.Summary)
}

func TestRestoreEmptySnapshotKeepsSeed(t *testing.T) {
	s := NewStore()
	before := s.ActiveID()

	s.Restore(Snapshot{})

	assert.Equal(t, before, s.ActiveID())
	_, ok := s.ActiveConversation()
	assert.True(t, ok)
}

func TestToggleSearch(t *testing.T) {
	s := NewStore()
	initial := s.SearchEnabled()
	assert.Equal(t, !initial, s.ToggleSearch())
	assert.Equal(t, initial, s.ToggleSearch())
}

func TestEditingState(t *testing.T) {
	s := NewStore()
	s.StartEditing("m1", "draft")
	id, text := s.Editing()
	assert.Equal(t, "m1", id)
	assert.Equal(t, "draft", text)

	s.SetEditingText("new draft")
	_, text = s.Editing()
	assert.Equal(t, "new draft", text)

	s.StopEditing()
	id, text = s.Editing()
	assert.Empty(t, id)
	assert.Empty(t, text)
}
