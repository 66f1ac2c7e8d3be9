//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/model"
	"trpc.group/trpc-go/vortex-chat/tool"
	"trpc.group/trpc-go/vortex-chat/validate"
)

// mockProvider replays a scripted event sequence per invocation and captures
// every request it receives.
type mockProvider struct {
	mu       sync.Mutex
	requests []*model.Request
	script   []func(req *model.Request, ch chan<- model.Event)
	started  chan struct{}
	starts   chan struct{}
	block    bool
}

func (m *mockProvider) GenerateStream(ctx context.Context, req *model.Request) (<-chan model.Event, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	call := len(m.requests) - 1
	m.mu.Unlock()

	if m.started != nil && call == 0 {
		close(m.started)
	}
	if m.starts != nil {
		m.starts <- struct{}{}
	}

	ch := make(chan model.Event, 16)
	go func() {
		defer close(ch)
		if m.block {
			<-ctx.Done()
			ch <- model.StreamError{Err: ctx.Err()}
			return
		}
		if call < len(m.script) {
			m.script[call](req, ch)
		}
	}()
	return ch, nil
}

func (m *mockProvider) request(t *testing.T, i int) *model.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(t, len(m.requests), i)
	return m.requests[i]
}

// mockAnalyzer records the attachment it was asked to analyze.
type mockAnalyzer struct {
	mu         sync.Mutex
	prompt     string
	attachment *chat.Attachment
	response   string
}

func (m *mockAnalyzer) AnalyzeFile(_ context.Context, prompt string, attachment *chat.Attachment, _ string) (<-chan model.Event, error) {
	m.mu.Lock()
	m.prompt = prompt
	m.attachment = attachment
	m.mu.Unlock()

	ch := make(chan model.Event, 1)
	ch <- model.TextDelta{Text: m.response}
	close(ch)
	return ch, nil
}

// mockSearchTool stands in for the internet-search tool.
type mockSearchTool struct {
	mu    sync.Mutex
	calls [][]byte
}

func (m *mockSearchTool) Declaration() *tool.Declaration {
	return tool.NewDeclaration(searchToolName, "test search").
		WithStringParam("query", "query")
}

func (m *mockSearchTool) Call(_ context.Context, jsonArgs []byte) (map[string]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, jsonArgs)
	m.mu.Unlock()
	return map[string]any{"results": "three headlines"}, nil
}

func (m *mockSearchTool) FormatResult(map[string]any) string {
	return "1. headline"
}

type recordingPersister struct {
	mu    sync.Mutex
	saves int
}

func (p *recordingPersister) Save(chat.Snapshot) error {
	p.mu.Lock()
	p.saves++
	p.mu.Unlock()
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func newTestRunner(t *testing.T, store *chat.Store, opts ...Option) *Runner {
	t.Helper()
	r, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func lastMessages(t *testing.T, store *chat.Store, n int) []chat.Message {
	t.Helper()
	conv, ok := store.ActiveConversation()
	require.True(t, ok)
	require.GreaterOrEqual(t, len(conv.Messages), n)
	return conv.Messages[len(conv.Messages)-n:]
}

func TestSendMessageStreamsResponse(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "Hi"}
			ch <- model.TextDelta{Text: " there"}
		},
	}}
	persister := &recordingPersister{}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithPersister(persister),
	)

	require.NoError(t, r.SendMessage(context.Background(), "Hello", nil))

	msgs := lastMessages(t, store, 2)
	assert.Equal(t, chat.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, chat.SenderAI, msgs[1].Sender)
	assert.Equal(t, "Hi there", msgs[1].Text)

	conv, _ := store.ActiveConversation()
	assert.Equal(t, "Hello", conv.Title, "first user message names the conversation")
	assert.False(t, store.IsLoading())
	assert.Equal(t, StateIdle, r.State())
	assert.Positive(t, persister.count())

	req := provider.request(t, 0)
	assert.Equal(t, "Hello", req.UserText)
	assert.Empty(t, req.History, "welcome message never reaches the provider")
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	require.NoError(t, r.SendMessage(context.Background(), "", nil))

	conv, _ := store.ActiveConversation()
	assert.Len(t, conv.Messages, 1)
}

func TestLaughPrecheckSkipsProvider(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	require.NoError(t, r.SendMessage(context.Background(), "jajaja", nil))

	msgs := lastMessages(t, store, 2)
	assert.Equal(t, "jajaja", msgs[0].Text)
	assert.Equal(t, chat.SenderAI, msgs[1].Sender)
	assert.NotEmpty(t, msgs[1].Text)
	assert.Empty(t, provider.requests, "laughter is answered locally")
}

func TestToolRound(t *testing.T) {
	store := chat.NewStore()
	store.SetSearchEnabled(true)
	search := &mockSearchTool{}
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "Let me check."}
			ch <- model.ToolCallBatch{Calls: []model.ToolCall{{
				ID:        "call-1",
				Name:      searchToolName,
				Arguments: []byte(`{"query":"news"}`),
			}}}
		},
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: " Here is the news."}
		},
	}}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithTool(search),
	)

	require.NoError(t, r.SendMessage(context.Background(), "what's in the news?", nil))

	msgs := lastMessages(t, store, 1)
	assert.Equal(t, "Let me check. Here is the news.", msgs[0].Text)

	require.Len(t, search.calls, 1)
	assert.JSONEq(t, `{"query":"news"}`, string(search.calls[0]))

	second := provider.request(t, 1)
	require.Len(t, second.ToolRounds, 1)
	round := second.ToolRounds[0]
	assert.Equal(t, "Let me check.", round.Text)
	require.Len(t, round.Calls, 1)
	assert.Equal(t, "call-1", round.Calls[0].ID)
	require.Len(t, round.Results, 1)
	assert.Equal(t, "call-1", round.Results[0].CallID)
	assert.Equal(t, "1. headline", round.Results[0].Content)
	assert.Equal(t, map[string]any{"results": "three headlines"}, round.Results[0].Response)

	assert.False(t, store.IsSearching())
	name, _ := store.CurrentTool()
	assert.Empty(t, name)
}

func TestSearchToolWithheldWhenDisabled(t *testing.T) {
	store := chat.NewStore()
	store.SetSearchEnabled(false)
	search := &mockSearchTool{}
	clock := tool.NewClockTool()
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "done"}
		},
	}}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithTool(search),
		WithTool(clock),
	)

	require.NoError(t, r.SendMessage(context.Background(), "hi", nil))

	req := provider.request(t, 0)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, tool.ClockToolName, req.Tools[0].Name)
}

func TestUnknownToolAnswersWithError(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.ToolCallBatch{Calls: []model.ToolCall{{
				ID: "call-1", Name: "noSuchTool", Arguments: []byte(`{}`),
			}}}
		},
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "recovered"}
		},
	}}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	require.NoError(t, r.SendMessage(context.Background(), "hi", nil))

	second := provider.request(t, 1)
	require.Len(t, second.ToolRounds, 1)
	require.Len(t, second.ToolRounds[0].Results, 1)
	assert.Contains(t, second.ToolRounds[0].Results[0].Response, "error")
}

func TestToolRoundsAccumulate(t *testing.T) {
	store := chat.NewStore()
	store.SetSearchEnabled(true)
	search := &mockSearchTool{}
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "Searching."}
			ch <- model.ToolCallBatch{Calls: []model.ToolCall{{
				ID: "call-1", Name: searchToolName, Arguments: []byte(`{"query":"first"}`),
			}}}
		},
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: " Narrowing down."}
			ch <- model.ToolCallBatch{Calls: []model.ToolCall{{
				ID: "call-2", Name: searchToolName, Arguments: []byte(`{"query":"second"}`),
			}}}
		},
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: " Found it."}
		},
	}}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithTool(search),
	)

	require.NoError(t, r.SendMessage(context.Background(), "dig deep", nil))

	// The third invocation must still carry both completed exchanges, with
	// the text streamed alongside each round.
	third := provider.request(t, 2)
	require.Len(t, third.ToolRounds, 2)
	assert.Equal(t, "Searching.", third.ToolRounds[0].Text)
	assert.Equal(t, "call-1", third.ToolRounds[0].Calls[0].ID)
	assert.Equal(t, "1. headline", third.ToolRounds[0].Results[0].Content)
	assert.Equal(t, " Narrowing down.", third.ToolRounds[1].Text)
	assert.Equal(t, "call-2", third.ToolRounds[1].Calls[0].ID)

	msgs := lastMessages(t, store, 1)
	assert.Equal(t, "Searching. Narrowing down. Found it.", msgs[0].Text)
	require.Len(t, search.calls, 2)
}

func TestStreamErrorRollsBack(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "partial"}
			ch <- model.StreamError{Err: errors.New("quota error: rate limit exceeded")}
		},
	}}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	err := r.SendMessage(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, validate.KindQuota, validate.Classify(err))

	conv, _ := store.ActiveConversation()
	assert.Len(t, conv.Messages, 1, "user message and placeholder are rolled back")

	toast, ok := store.Toast()
	require.True(t, ok)
	assert.Equal(t, chat.ToastError, toast.Kind)
	assert.False(t, store.IsLoading())
}

func TestCancelSettlesWithMarker(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{block: true, started: make(chan struct{})}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	done := make(chan error, 1)
	go func() {
		done <- r.SendMessage(context.Background(), "long question", nil)
	}()

	<-provider.started
	r.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "cancellation is a settled outcome, not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not settle after cancel")
	}

	msgs := lastMessages(t, store, 2)
	assert.Equal(t, "long question", msgs[0].Text)
	assert.Equal(t, chat.CancelledText, msgs[1].Text)

	toast, ok := store.Toast()
	require.True(t, ok)
	assert.Equal(t, chat.ToastInfo, toast.Kind)
}

func TestTurnTimeout(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{block: true}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithTurnTimeout(30*time.Millisecond),
	)

	require.NoError(t, r.SendMessage(context.Background(), "slow", nil))

	msgs := lastMessages(t, store, 1)
	assert.Equal(t, chat.CancelledText, msgs[0].Text)
}

func TestNewTurnCancelsPrevious(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{block: true, started: make(chan struct{})}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	done := make(chan error, 1)
	go func() {
		done <- r.SendMessage(context.Background(), "first", nil)
	}()
	<-provider.started

	// Laugh turns also go through begin, cancelling the live turn.
	require.NoError(t, r.SendMessage(context.Background(), "lol", nil))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("previous turn did not settle")
	}
}

func TestCancelReachesLiveTurnAfterHandoff(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{block: true, starts: make(chan struct{}, 2)}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	first := make(chan error, 1)
	go func() {
		first <- r.SendMessage(context.Background(), "first question", nil)
	}()
	<-provider.starts

	second := make(chan error, 1)
	go func() {
		second <- r.SendMessage(context.Background(), "second question", nil)
	}()
	<-provider.starts

	// The superseded turn settles; its teardown must not strip the live
	// turn's cancel registration.
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded turn did not settle")
	}

	assert.True(t, store.IsLoading(), "live turn still owns the loading flag")
	assert.NotEqual(t, StateIdle, r.State())

	r.Cancel()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("live turn ignored Cancel after the handoff")
	}

	msgs := lastMessages(t, store, 2)
	assert.Equal(t, "second question", msgs[0].Text)
	assert.Equal(t, chat.CancelledText, msgs[1].Text)
	assert.False(t, store.IsLoading())
}

func TestAttachmentRoutedThroughAnalyzer(t *testing.T) {
	store := chat.NewStore()
	analyzer := &mockAnalyzer{response: "It is a cat."}
	provider := &mockProvider{}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithFileAnalyzer(analyzer),
	)

	att := &chat.Attachment{Name: "cat.png", MIMEType: "image/png", Data: []byte("img")}
	require.NoError(t, r.SendMessage(context.Background(), "what is this?", att))

	msgs := lastMessages(t, store, 2)
	assert.Equal(t, "what is this?", msgs[0].Text)
	require.NotNil(t, msgs[0].FileInfo)
	assert.Equal(t, "cat.png", msgs[0].FileInfo.Name)
	assert.Equal(t, "It is a cat.", msgs[1].Text)

	assert.Empty(t, provider.requests)
	assert.Equal(t, "cat.png", analyzer.attachment.Name)
}

func TestInvalidAttachmentRejected(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	att := &chat.Attachment{Name: "a.txt", MIMEType: "text/plain", Data: []byte("x")}
	err := r.SendMessage(context.Background(), "read this", att)
	require.Error(t, err)

	conv, _ := store.ActiveConversation()
	assert.Len(t, conv.Messages, 1, "nothing is appended for a rejected attachment")
}

func TestImageHintReusesPreviousImage(t *testing.T) {
	store := chat.NewStore()
	convID := store.ActiveID()
	img := &chat.Attachment{Name: "graph.png", MIMEType: "image/png", Data: []byte("img")}
	store.AppendMessage(convID, chat.Message{
		ID:       "u-img",
		Sender:   chat.SenderUser,
		Text:     "look at this",
		FileInfo: img.Info(),
		Encoded:  img.Encode(),
	})
	store.AppendMessage(convID, chat.Message{ID: "a-img", Sender: chat.SenderAI, Text: "A graph."})

	analyzer := &mockAnalyzer{response: "Same graph, explained."}
	provider := &mockProvider{}
	r := newTestRunner(t, store,
		WithProvider(chat.ProviderGoogle, provider),
		WithFileAnalyzer(analyzer),
	)

	require.NoError(t, r.SendMessage(context.Background(), "explain the previous image", nil))

	require.NotNil(t, analyzer.attachment)
	assert.Equal(t, "graph.png", analyzer.attachment.Name)
	assert.Empty(t, provider.requests)

	msgs := lastMessages(t, store, 1)
	assert.Equal(t, "Same graph, explained.", msgs[0].Text)
	assert.False(t, store.UsingPreviousImage(), "flag is cleared after settlement")
}

func TestRegenerateLastResponse(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "first answer"}
		},
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "second answer"}
		},
	}}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	require.NoError(t, r.SendMessage(context.Background(), "question", nil))
	require.NoError(t, r.RegenerateLastResponse(context.Background()))

	conv, _ := store.ActiveConversation()
	require.Len(t, conv.Messages, 3, "welcome, user, regenerated answer")
	assert.Equal(t, "question", conv.Messages[1].Text)
	assert.Equal(t, "second answer", conv.Messages[2].Text)
}

func TestRegenerateWithoutUserMessage(t *testing.T) {
	store := chat.NewStore()
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, &mockProvider{}))

	err := r.RegenerateLastResponse(context.Background())
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestEditAndResend(t *testing.T) {
	store := chat.NewStore()
	provider := &mockProvider{script: []func(*model.Request, chan<- model.Event){
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "answer one"}
		},
		func(_ *model.Request, ch chan<- model.Event) {
			ch <- model.TextDelta{Text: "answer two"}
		},
	}}
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, provider))

	require.NoError(t, r.SendMessage(context.Background(), "original question", nil))
	conv, _ := store.ActiveConversation()
	userID := conv.Messages[1].ID

	require.NoError(t, r.EditAndResend(context.Background(), userID, "better question"))

	conv, _ = store.ActiveConversation()
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "better question", conv.Messages[1].Text)
	assert.Equal(t, "answer two", conv.Messages[2].Text)

	second := provider.request(t, 1)
	assert.Equal(t, "better question", second.UserText)
}

func TestEditAndResendRejectsAIMessages(t *testing.T) {
	store := chat.NewStore()
	r := newTestRunner(t, store, WithProvider(chat.ProviderGoogle, &mockProvider{}))

	err := r.EditAndResend(context.Background(), chat.WelcomeMessageID, "new text")
	assert.Error(t, err)
}

func TestNoProviderRegistered(t *testing.T) {
	store := chat.NewStore()
	r := newTestRunner(t, store)

	err := r.SendMessage(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProvider)

	conv, _ := store.ActiveConversation()
	assert.Len(t, conv.Messages, 1, "failed turn is rolled back")
}
