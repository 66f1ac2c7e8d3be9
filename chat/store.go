//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package chat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ToastKind classifies a transient user notification.
type ToastKind string

const (
	// ToastSuccess marks a confirmation notification.
	ToastSuccess ToastKind = "success"
	// ToastError marks a failure notification.
	ToastError ToastKind = "error"
	// ToastInfo marks a neutral notification.
	ToastInfo ToastKind = "info"
)

// Toast is a transient user-visible notification.
type Toast struct {
	Message string
	Kind    ToastKind
}

// MessagePatch is a partial message update. Nil fields are left untouched.
type MessagePatch struct {
	Text     *string
	ImageURL *string
}

// Store is the single source of truth for conversations, messages, summaries
// and the UI-visible derived flags. All mutation passes through its operation
// set; mutations are serialized by an internal mutex and are immediately
// visible to subsequent reads. A store always holds at least one conversation.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*Conversation
	summaries     map[string]*ConversationSummary
	activeID      string
	nextSeq       int

	searchEnabled bool

	// Ephemeral, never persisted.
	loading            bool
	searching          bool
	generatingSummary  bool
	usingPreviousImage bool
	currentTool        string
	toolQuery          string
	editingMessageID   string
	editingText        string
	toast              *Toast
}

// NewStore creates a store seeded with a single conversation of the default
// personality, satisfying the at-least-one-conversation invariant from the
// first read on.
func NewStore() *Store {
	s := &Store{
		conversations: make(map[string]*Conversation),
		summaries:     make(map[string]*ConversationSummary),
		searchEnabled: true,
	}
	s.NewConversation(DefaultPersonality)
	return s
}

// NewConversation creates a conversation seeded with the personality's
// welcome message, makes it active and emits a success toast.
func (s *Store) NewConversation(p Personality) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := Config(p)
	conv := &Conversation{
		ID:    uuid.NewString(),
		Title: DefaultTitle,
		Messages: []Message{{
			ID:     WelcomeMessageID,
			Sender: SenderAI,
			Text:   cfg.WelcomeMessage,
		}},
		LastModified: time.Now(),
		Personality:  p,
		Seq:          s.nextSeq,
	}
	s.nextSeq++
	s.conversations[conv.ID] = conv
	s.activeID = conv.ID
	s.toast = &Toast{Message: "New conversation started", Kind: ToastSuccess}
	return conv.clone()
}

// DeleteConversation removes a conversation. Deleting the sole remaining
// conversation is a no-op. If the active conversation is deleted, the most
// recently modified remaining conversation becomes active; ties are broken by
// creation order.
func (s *Store) DeleteConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.conversations) <= 1 {
		return false
	}
	if _, ok := s.conversations[id]; !ok {
		return false
	}
	delete(s.conversations, id)
	delete(s.summaries, id)

	if s.activeID == id {
		remaining := make([]*Conversation, 0, len(s.conversations))
		for _, c := range s.conversations {
			remaining = append(remaining, c)
		}
		sort.Slice(remaining, func(i, j int) bool {
			if !remaining[i].LastModified.Equal(remaining[j].LastModified) {
				return remaining[i].LastModified.After(remaining[j].LastModified)
			}
			return remaining[i].Seq < remaining[j].Seq
		})
		s.activeID = remaining[0].ID
	}
	return true
}

// RenameConversation sets a conversation title. A blank title is a no-op.
func (s *Store) RenameConversation(id, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[id]; ok {
		conv.Title = title
		conv.LastModified = time.Now()
	}
}

// ChangePersonality switches the personality of a conversation.
func (s *Store) ChangePersonality(id string, p Personality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[id]; ok && conv.Personality != p {
		conv.Personality = p
		conv.LastModified = time.Now()
	}
}

// Conversation returns a copy of the conversation with the given id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// ActiveConversation returns a copy of the active conversation.
func (s *Store) ActiveConversation() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[s.activeID]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// Conversations returns copies of all conversations ordered by LastModified
// descending, ties broken by creation order.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ActiveID returns the id of the active conversation.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive selects the active conversation. Unknown ids are ignored.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; ok {
		s.activeID = id
	}
}

// AppendMessage appends a message to a conversation.
func (s *Store) AppendMessage(conversationID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.Messages = append(conv.Messages, msg)
		conv.LastModified = time.Now()
	}
}

// PatchMessage applies a partial update to a message.
func (s *Store) PatchMessage(conversationID, messageID string, patch MessagePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	idx := conv.MessageIndex(messageID)
	if idx < 0 {
		return false
	}
	if patch.Text != nil {
		conv.Messages[idx].Text = *patch.Text
	}
	if patch.ImageURL != nil {
		conv.Messages[idx].ImageURL = *patch.ImageURL
	}
	conv.LastModified = time.Now()
	return true
}

// RemoveMessage deletes a message from a conversation.
func (s *Store) RemoveMessage(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	idx := conv.MessageIndex(messageID)
	if idx < 0 {
		return false
	}
	conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
	conv.LastModified = time.Now()
	return true
}

// ReplaceMessages swaps a conversation's message sequence wholesale. Used by
// the truncate-then-resubmit paths of edit and regenerate.
func (s *Store) ReplaceMessages(conversationID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.Messages = append([]Message(nil), msgs...)
		conv.LastModified = time.Now()
	}
}

// Summary returns a copy of the summary for a conversation, if one exists.
func (s *Store) Summary(conversationID string) (ConversationSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[conversationID]
	if !ok {
		return ConversationSummary{}, false
	}
	return *sum, true
}

// SetSummary stores the summary for its conversation, replacing any prior one.
func (s *Store) SetSummary(sum ConversationSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.ConversationID] = &sum
}

// LastImageMessage looks back through the most recent messages of a
// conversation for one carrying an image attachment. The window is bounded to
// ten messages.
func (s *Store) LastImageMessage(conversationID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return Message{}, false
	}
	start := len(conv.Messages) - 10
	if start < 0 {
		start = 0
	}
	for i := len(conv.Messages) - 1; i >= start; i-- {
		msg := &conv.Messages[i]
		if msg.Encoded != "" && msg.FileInfo != nil &&
			strings.HasPrefix(msg.FileInfo.MIMEType, "image/") {
			return *msg, true
		}
	}
	return Message{}, false
}

// SetLoading sets the generation-in-flight flag.
func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// IsLoading reports whether a generation turn is in flight.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetSearching sets the tool-execution indicator.
func (s *Store) SetSearching(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searching = v
}

// IsSearching reports whether a tool call is executing.
func (s *Store) IsSearching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searching
}

// SetCurrentTool records the tool currently executing and its query for
// display. Empty name clears the indicator.
func (s *Store) SetCurrentTool(name, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTool = name
	s.toolQuery = query
}

// CurrentTool returns the executing tool name and its query argument.
func (s *Store) CurrentTool() (name, query string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTool, s.toolQuery
}

// SetGeneratingSummary sets the background-summary indicator.
func (s *Store) SetGeneratingSummary(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generatingSummary = v
}

// IsGeneratingSummary reports whether a background summary pass is running.
func (s *Store) IsGeneratingSummary() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generatingSummary
}

// SetUsingPreviousImage flags that a previous image attachment is being
// transparently reused for the current turn.
func (s *Store) SetUsingPreviousImage(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usingPreviousImage = v
}

// UsingPreviousImage reports whether a previous image is being reused.
func (s *Store) UsingPreviousImage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usingPreviousImage
}

// SearchEnabled reports whether the search tool is offered to providers.
func (s *Store) SearchEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchEnabled
}

// SetSearchEnabled toggles whether the search tool is offered to providers.
func (s *Store) SetSearchEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchEnabled = v
}

// ToggleSearch flips the search-enabled flag and returns the new value.
func (s *Store) ToggleSearch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchEnabled = !s.searchEnabled
	return s.searchEnabled
}

// StartEditing marks a message as being edited with the given draft text.
func (s *Store) StartEditing(messageID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editingMessageID = messageID
	s.editingText = text
}

// StopEditing clears the editing state.
func (s *Store) StopEditing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editingMessageID = ""
	s.editingText = ""
}

// SetEditingText updates the editing draft text.
func (s *Store) SetEditingText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editingText = text
}

// Editing returns the id of the message being edited and the draft text.
func (s *Store) Editing() (messageID, text string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.editingMessageID, s.editingText
}

// ShowToast publishes a transient notification, replacing any current one.
func (s *Store) ShowToast(message string, kind ToastKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toast = &Toast{Message: message, Kind: kind}
}

// Toast returns the current notification, if any.
func (s *Store) Toast() (Toast, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.toast == nil {
		return Toast{}, false
	}
	return *s.toast, true
}

// HideToast clears the current notification.
func (s *Store) HideToast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toast = nil
}

// Snapshot is the whitelisted persisted subset of store state. Loading flags,
// tool indicators and editing drafts are deliberately excluded.
type Snapshot struct {
	Conversations        []Conversation        `json:"conversations"`
	Summaries            []ConversationSummary `json:"summaries"`
	ActiveConversationID string                `json:"active_conversation_id"`
	SearchEnabled        bool                  `json:"search_enabled"`
}

// Snapshot captures the persisted subset of the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ActiveConversationID: s.activeID,
		SearchEnabled:        s.searchEnabled,
	}
	for _, c := range s.conversations {
		snap.Conversations = append(snap.Conversations, c.clone())
	}
	sort.Slice(snap.Conversations, func(i, j int) bool {
		return snap.Conversations[i].Seq < snap.Conversations[j].Seq
	})
	for _, sum := range s.summaries {
		snap.Summaries = append(snap.Summaries, *sum)
	}
	sort.Slice(snap.Summaries, func(i, j int) bool {
		return snap.Summaries[i].ConversationID < snap.Summaries[j].ConversationID
	})
	return snap
}

// Restore replaces store state from a snapshot. An empty snapshot leaves the
// store untouched so the at-least-one-conversation invariant holds.
func (s *Store) Restore(snap Snapshot) {
	if len(snap.Conversations) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make(map[string]*Conversation, len(snap.Conversations))
	maxSeq := -1
	for i := range snap.Conversations {
		conv := snap.Conversations[i].clone()
		s.conversations[conv.ID] = &conv
		if conv.Seq > maxSeq {
			maxSeq = conv.Seq
		}
	}
	s.nextSeq = maxSeq + 1

	s.summaries = make(map[string]*ConversationSummary, len(snap.Summaries))
	for i := range snap.Summaries {
		sum := snap.Summaries[i]
		s.summaries[sum.ConversationID] = &sum
	}

	if _, ok := s.conversations[snap.ActiveConversationID]; ok {
		s.activeID = snap.ActiveConversationID
	} else {
		for id := range s.conversations {
			s.activeID = id
			break
		}
	}
	s.searchEnabled = snap.SearchEnabled
}
