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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/history"
	"trpc.group/trpc-go/vortex-chat/log"
	"trpc.group/trpc-go/vortex-chat/model"
	"trpc.group/trpc-go/vortex-chat/summary"
	"trpc.group/trpc-go/vortex-chat/tool"
	"trpc.group/trpc-go/vortex-chat/validate"
)

// ErrNoProvider is returned when the active personality's provider has not
// been registered.
var ErrNoProvider = errors.New("no provider registered for personality")

// SendMessage runs one conversation turn: it records the user message,
// streams the provider response into a placeholder AI message, executes any
// tool calls, and settles the conversation. A blank turn with no attachment
// is a no-op. Starting a turn while another is live cancels the previous
// one first.
func (r *Runner) SendMessage(ctx context.Context, text string, attachment *chat.Attachment) error {
	if text == "" && attachment == nil {
		return nil
	}
	conv, ok := r.store.ActiveConversation()
	if !ok {
		return errors.New("no active conversation")
	}

	turnCtx, cancel, gen := r.begin(ctx)
	defer r.finish(cancel, gen)

	// Laughter gets a canned reply without touching a provider.
	if attachment == nil && isLaugh(text) {
		r.store.AppendMessage(conv.ID, chat.Message{
			ID:     uuid.NewString(),
			Sender: chat.SenderUser,
			Text:   text,
		})
		r.store.AppendMessage(conv.ID, chat.Message{
			ID:     uuid.NewString(),
			Sender: chat.SenderAI,
			Text:   r.laughResponse(conv.LastAIText()),
		})
		r.persist()
		return nil
	}

	if attachment != nil {
		if err := attachment.Validate(); err != nil {
			r.store.ShowToast("Could not process the attached file.", chat.ToastError)
			return err
		}
	}

	// First user message names the conversation.
	if !conv.HasUserMessage() && text != "" {
		r.store.RenameConversation(conv.ID, chat.TitleFromText(text))
	}

	userMsg := chat.Message{
		ID:     uuid.NewString(),
		Sender: chat.SenderUser,
		Text:   text,
	}
	if attachment != nil {
		userMsg.FileInfo = attachment.Info()
		userMsg.Encoded = attachment.Encode()
	}
	aiMsgID := uuid.NewString()

	r.store.SetLoading(true)
	r.store.AppendMessage(conv.ID, userMsg)
	r.store.AppendMessage(conv.ID, chat.Message{
		ID:     aiMsgID,
		Sender: chat.SenderAI,
		Text:   chat.PlaceholderText,
	})

	err := r.generate(turnCtx, gen, conv.ID, aiMsgID, text, attachment)
	r.settle(gen, conv.ID, userMsg, aiMsgID, err)
	return turnError(err)
}

// turnError maps the raw generation error to what the caller sees:
// cancellation and timeout are settled outcomes, not errors.
func turnError(err error) error {
	if err == nil {
		return nil
	}
	switch validate.Classify(err) {
	case validate.KindCancelled, validate.KindTimeout:
		return nil
	default:
		return err
	}
}

// generate drives the provider for one turn, applying deltas to the
// placeholder message as they arrive.
func (r *Runner) generate(ctx context.Context, gen uint64, convID, aiMsgID, text string, attachment *chat.Attachment) error {
	conv, ok := r.store.Conversation(convID)
	if !ok {
		return errors.New("conversation disappeared")
	}
	cfg := chat.Config(conv.Personality)

	sum, hasSum := r.store.Summary(convID)
	var sumPtr *chat.ConversationSummary
	if hasSum {
		sumPtr = &sum
	}
	systemInstruction := summary.EnrichedSystemInstruction(cfg.SystemInstruction, sumPtr)

	// Text-only turns that refer back to an earlier image reuse it.
	if attachment == nil && cfg.Provider == chat.ProviderGoogle && r.imageHint(text) {
		if msg, ok := r.store.LastImageMessage(convID); ok {
			if prev, err := msg.Attachment(); err == nil {
				r.store.SetUsingPreviousImage(true)
				attachment = prev
			} else {
				log.Warnf("reuse previous image: %v", err)
			}
		}
	}

	// Attachment turns on the session provider go through the analyzer,
	// which streams text only.
	if attachment != nil && r.analyzer != nil && (cfg.Provider == chat.ProviderGoogle || !attachment.IsImage()) {
		events, err := r.analyzer.AnalyzeFile(ctx, text, attachment, systemInstruction)
		if err != nil {
			return err
		}
		r.setState(gen, StateStreaming)
		_, err = r.applyStream(ctx, convID, aiMsgID, "", events)
		return err
	}

	provider, ok := r.providers[cfg.Provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProvider, cfg.Name)
	}

	// The enriched context still contains the turn in flight; everything
	// from the new user message on is stripped before cleaning.
	enriched := summary.EnrichedContext(&conv, sumPtr)
	if n := len(enriched); n >= 2 {
		enriched = enriched[:n-2]
	}
	req := &model.Request{
		Model:             cfg.Model,
		SystemInstruction: systemInstruction,
		History:           validate.CleanHistory(enriched),
		UserText:          text,
		Attachment:        attachment,
		Tools:             r.declarations(),
	}

	var aiText string
	for round := 0; ; round++ {
		r.setState(gen, StateStreaming)
		events, err := provider.GenerateStream(ctx, req)
		if err != nil {
			return err
		}
		roundStart := len(aiText)
		var calls []model.ToolCall
		aiText, calls, err = r.drainStream(ctx, convID, aiMsgID, aiText, events)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}
		if round >= maxToolRounds {
			log.Warnf("tool round limit reached for conversation %s, stopping", convID)
			return nil
		}

		r.setState(gen, StateToolExecuting)
		results := r.executeTools(ctx, calls)
		if err := ctx.Err(); err != nil {
			return err
		}
		// Every completed exchange stays on the request so the provider sees
		// the whole turn on each re-invocation, not just the latest round.
		req.ToolRounds = append(req.ToolRounds, model.ToolRound{
			Text:    aiText[roundStart:],
			Calls:   calls,
			Results: results,
		})
	}
}

func (r *Runner) drainStream(ctx context.Context, convID, aiMsgID, aiText string, events <-chan model.Event) (string, []model.ToolCall, error) {
	var calls []model.ToolCall
	text, err := r.applyStreamInner(ctx, convID, aiMsgID, aiText, events, &calls)
	return text, calls, err
}

// applyStream consumes a stream of text deltas, ignoring tool calls.
func (r *Runner) applyStream(ctx context.Context, convID, aiMsgID, aiText string, events <-chan model.Event) (string, error) {
	return r.applyStreamInner(ctx, convID, aiMsgID, aiText, events, nil)
}

func (r *Runner) applyStreamInner(ctx context.Context, convID, aiMsgID, aiText string, events <-chan model.Event, calls *[]model.ToolCall) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return aiText, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return aiText, nil
			}
			switch ev := ev.(type) {
			case model.TextDelta:
				aiText += ev.Text
				r.store.PatchMessage(convID, aiMsgID, chat.MessagePatch{Text: &aiText})
			case model.ToolCallBatch:
				if calls != nil {
					*calls = append(*calls, ev.Calls...)
				}
			case model.StreamError:
				return aiText, ev.Err
			}
		}
	}
}

// executeTools runs one batch of calls in declaration order. A failing or
// unknown tool answers with an error payload so the provider can react;
// the turn itself keeps going.
func (r *Runner) executeTools(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	r.store.SetSearching(true)
	defer r.store.SetSearching(false)

	results := make([]model.ToolResult, 0, len(calls))
	for i, call := range calls {
		if i == 0 {
			r.store.SetCurrentTool(call.Name, queryArg(call.Arguments))
		}
		results = append(results, r.executeTool(ctx, call))
	}
	return results
}

func (r *Runner) executeTool(ctx context.Context, call model.ToolCall) model.ToolResult {
	result := model.ToolResult{CallID: call.ID, Name: call.Name}

	t, ok := r.tools[call.Name]
	if !ok {
		log.Warnf("provider requested unknown tool %q", call.Name)
		result.Response = map[string]any{"error": "unknown tool"}
		result.Content = "Error executing the tool."
		return result
	}
	resp, err := t.Call(ctx, call.Arguments)
	if err != nil {
		log.Errorf("tool %s failed: %v", call.Name, err)
		result.Response = map[string]any{"error": "error executing the tool"}
		result.Content = "Error executing the tool."
		return result
	}
	result.Response = resp
	if formatter, ok := t.(tool.ResultFormatter); ok {
		result.Content = formatter.FormatResult(resp)
	} else if data, err := json.Marshal(resp); err == nil {
		result.Content = string(data)
	}
	return result
}

func queryArg(args []byte) string {
	var parsed struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ""
	}
	return parsed.Query
}

// settle finalizes the turn: cancellations keep the user message and mark
// the AI message, failures roll both messages back, successes persist and
// schedule background work. The shared ephemeral flags are only cleared
// while the turn still owns them; after a cancel-then-start handoff they
// belong to the new turn.
func (r *Runner) settle(gen uint64, convID string, userMsg chat.Message, aiMsgID string, genErr error) {
	r.setState(gen, StateSettling)
	defer func() {
		if !r.isCurrent(gen) {
			return
		}
		r.store.SetLoading(false)
		r.store.SetSearching(false)
		r.store.SetCurrentTool("", "")
		r.store.SetUsingPreviousImage(false)
	}()

	if genErr != nil {
		switch validate.Classify(genErr) {
		case validate.KindCancelled, validate.KindTimeout:
			cancelled := chat.CancelledText
			r.store.PatchMessage(convID, aiMsgID, chat.MessagePatch{Text: &cancelled})
			r.store.ShowToast("Generation cancelled", chat.ToastInfo)
		default:
			log.Errorf("turn failed: %v", genErr)
			r.store.RemoveMessage(convID, userMsg.ID)
			r.store.RemoveMessage(convID, aiMsgID)
			r.store.ShowToast(validate.UserMessage(genErr), chat.ToastError)
		}
		r.persist()
		return
	}

	r.persist()
	r.recordTurn(convID, userMsg, aiMsgID)
	r.scheduleSummary(convID)
}

// recordTurn mirrors a completed exchange to the history sink. Best effort.
func (r *Runner) recordTurn(convID string, userMsg chat.Message, aiMsgID string) {
	conv, ok := r.store.Conversation(convID)
	if !ok {
		return
	}
	idx := conv.MessageIndex(aiMsgID)
	if idx < 0 {
		return
	}
	aiMsg := conv.Messages[idx]
	if aiMsg.Text == "" || aiMsg.Text == chat.PlaceholderText || aiMsg.Text == chat.CancelledText {
		return
	}

	fileName := ""
	if userMsg.FileInfo != nil {
		fileName = userMsg.FileInfo.Name
	}
	records := []history.Record{
		{
			ConversationID: convID,
			MessageID:      userMsg.ID,
			Sender:         chat.SenderUser,
			Text:           userMsg.Text,
			FileName:       fileName,
			Personality:    conv.Personality,
			CreatedAt:      time.Now(),
		},
		{
			ConversationID: convID,
			MessageID:      aiMsg.ID,
			Sender:         chat.SenderAI,
			Text:           aiMsg.Text,
			Personality:    conv.Personality,
			CreatedAt:      time.Now(),
		},
	}

	r.wg.Add(1)
	if err := r.pool.Submit(func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, rec := range records {
			if err := r.sink.Save(ctx, rec); err != nil {
				log.Warnf("record history: %v", err)
			}
		}
	}); err != nil {
		r.wg.Done()
		log.Warnf("submit history job: %v", err)
	}
}

// scheduleSummary queues a delayed background summarization pass.
func (r *Runner) scheduleSummary(convID string) {
	if r.summarizer == nil {
		return
	}
	r.wg.Add(1)
	if err := r.pool.Submit(func() {
		defer r.wg.Done()
		time.Sleep(summaryDelay)
		r.generateSummary(convID)
	}); err != nil {
		r.wg.Done()
		log.Warnf("submit summary job: %v", err)
	}
}

func (r *Runner) generateSummary(convID string) {
	conv, ok := r.store.Conversation(convID)
	if !ok {
		return
	}
	existing, hasExisting := r.store.Summary(convID)
	var existingPtr *chat.ConversationSummary
	if hasExisting {
		existingPtr = &existing
	}
	if !summary.Needs(&conv, existingPtr) {
		return
	}

	r.store.SetGeneratingSummary(true)
	defer r.store.SetGeneratingSummary(false)

	var lastErr error
	for attempt := 1; attempt <= summaryRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		text, err := r.summarizer.Generate(ctx, &conv, existingPtr)
		cancel()
		if err == nil {
			r.store.SetSummary(summary.New(convID, text, len(conv.Messages), existingPtr))
			r.store.ShowToast("Conversation summary updated", chat.ToastSuccess)
			r.persist()
			return
		}
		lastErr = err
		log.Warnf("summary attempt %d/%d failed: %v", attempt, summaryRetries, err)
		if attempt < summaryRetries {
			time.Sleep(summaryBackoff)
		}
	}
	r.store.ShowToast("Could not update the conversation summary.", chat.ToastError)
	log.Errorf("summary generation failed: %v", lastErr)
}
