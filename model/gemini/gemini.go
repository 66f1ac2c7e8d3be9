//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package gemini adapts Google's Gemini API to the unified streaming
// contract. Unlike the chat-completion wire format, a session chunk carries
// complete function calls, so tool-call batches are emitted the moment they
// arrive instead of being reassembled after the stream ends.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/log"
	"trpc.group/trpc-go/vortex-chat/model"
	"trpc.group/trpc-go/vortex-chat/tool"
)

const (
	// defaultChannelBufferSize is the default event channel buffer size.
	defaultChannelBufferSize = 256

	// DefaultAnalysisPrompt is used when a file is attached without any text.
	DefaultAnalysisPrompt = "Please analyze this file and describe its content."
)

// Model is a session-based streaming adapter for one Gemini model.
type Model struct {
	client            *genai.Client
	name              string
	channelBufferSize int
}

type options struct {
	apiKey            string
	clientOpts        []option.ClientOption
	channelBufferSize int
}

// Option configures the adapter.
type Option func(*options)

// WithAPIKey sets the API key used for authentication.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithClientOptions appends extra Google API client options.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithChannelBufferSize sets the event channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.channelBufferSize = size
		}
	}
}

// New creates an adapter for the named model.
func New(ctx context.Context, name string, opts ...Option) (*Model, error) {
	o := &options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(o.apiKey)}, o.clientOpts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Model{
		client:            client,
		name:              name,
		channelBufferSize: o.channelBufferSize,
	}, nil
}

// Close releases the underlying client.
func (m *Model) Close() error {
	return m.client.Close()
}

// GenerateStream starts one streaming turn against a fresh chat session
// seeded with the request history. When the request carries tool rounds,
// every completed call/response exchange of the turn is replayed into the
// session and generation resumes from the last round's function responses.
func (m *Model) GenerateStream(ctx context.Context, req *model.Request) (<-chan model.Event, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}

	genModel := m.generativeModel(req.SystemInstruction, req.Tools)
	cs := genModel.StartChat()

	for _, turn := range req.History {
		role := "user"
		if turn.Role == model.RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}

	replay, send, err := turnReplay(req)
	if err != nil {
		return nil, err
	}
	cs.History = append(cs.History, replay...)

	eventChan := make(chan model.Event, m.channelBufferSize)
	go m.consume(ctx, cs.SendMessageStream(ctx, send...), eventChan, true)
	return eventChan, nil
}

// turnReplay rebuilds the session contents of the turn in flight. Without
// tool rounds the user turn itself is what gets sent; with tool rounds the
// user turn and every completed call/response exchange are replayed into
// history, interleaved in round order, and the last round's function
// responses resume the session.
func turnReplay(req *model.Request) (history []*genai.Content, send []genai.Part, err error) {
	if len(req.ToolRounds) == 0 {
		return nil, userParts(req), nil
	}

	history = append(history, &genai.Content{Role: "user", Parts: userParts(req)})
	last := len(req.ToolRounds) - 1
	for i, round := range req.ToolRounds {
		var callParts []genai.Part
		if round.Text != "" {
			callParts = append(callParts, genai.Text(round.Text))
		}
		for _, call := range round.Calls {
			args := map[string]any{}
			if len(call.Arguments) > 0 {
				if err := json.Unmarshal(call.Arguments, &args); err != nil {
					return nil, nil, fmt.Errorf("decode arguments of tool call %s: %w", call.Name, err)
				}
			}
			callParts = append(callParts, genai.FunctionCall{Name: call.Name, Args: args})
		}
		history = append(history, &genai.Content{Role: "model", Parts: callParts})

		responseParts := make([]genai.Part, 0, len(round.Results))
		for _, result := range round.Results {
			responseParts = append(responseParts, genai.FunctionResponse{
				Name:     result.Name,
				Response: result.Response,
			})
		}
		if i == last {
			send = responseParts
			continue
		}
		// Interim responses take the same role SendMessage itself records
		// for function responses.
		history = append(history, &genai.Content{Role: "user", Parts: responseParts})
	}
	return history, send, nil
}

// GenerateContent produces a single non-streamed completion.
func (m *Model) GenerateContent(ctx context.Context, prompt string) (string, error) {
	genModel := m.client.GenerativeModel(m.name)
	resp, err := genModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from gemini")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text, nil
}

// AnalyzeFile performs a single-shot multimodal analysis of an attachment
// and streams back text only. A blank prompt falls back to
// DefaultAnalysisPrompt.
func (m *Model) AnalyzeFile(ctx context.Context, prompt string, attachment *chat.Attachment, systemInstruction string) (<-chan model.Event, error) {
	if attachment == nil {
		return nil, errors.New("attachment is required")
	}
	if err := attachment.Validate(); err != nil {
		return nil, err
	}
	if prompt == "" {
		prompt = DefaultAnalysisPrompt
	}

	genModel := m.generativeModel(systemInstruction, nil)
	parts := []genai.Part{
		genai.Text(prompt),
		genai.Blob{MIMEType: attachment.MIMEType, Data: attachment.Data},
	}

	eventChan := make(chan model.Event, m.channelBufferSize)
	go m.consume(ctx, genModel.GenerateContentStream(ctx, parts...), eventChan, false)
	return eventChan, nil
}

func (m *Model) generativeModel(systemInstruction string, decls []*tool.Declaration) *genai.GenerativeModel {
	genModel := m.client.GenerativeModel(m.name)
	if systemInstruction != "" {
		genModel.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemInstruction)},
		}
	}
	if len(decls) > 0 {
		genModel.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(decls)},
		}
	}
	return genModel
}

// userParts builds the new user turn, attaching binary payloads inline.
func userParts(req *model.Request) []genai.Part {
	parts := []genai.Part{genai.Text(req.UserText)}
	if req.Attachment != nil {
		parts = append(parts, genai.Blob{
			MIMEType: req.Attachment.MIMEType,
			Data:     req.Attachment.Data,
		})
	}
	return parts
}

func convertTools(decls []*tool.Declaration) []*genai.FunctionDeclaration {
	funcs := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema),
			Required:   decl.Required,
		}
		for name, prop := range decl.Parameters {
			var enum []string
			for _, v := range prop.Enum {
				if s, ok := v.(string); ok {
					enum = append(enum, s)
				} else {
					enum = append(enum, fmt.Sprint(v))
				}
			}
			schema.Properties[name] = &genai.Schema{
				Type:        convertType(prop.Type),
				Description: prop.Description,
				Enum:        enum,
			}
		}
		funcs = append(funcs, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  schema,
		})
	}
	return funcs
}

func convertType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// consume drains a response iterator onto the event channel. Function calls
// within a chunk form one atomic batch, emitted before that chunk's text.
func (m *Model) consume(ctx context.Context, iter *genai.GenerateContentResponseIterator, eventChan chan<- model.Event, allowCalls bool) {
	defer close(eventChan)

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return
		}
		if err != nil {
			log.Debugf("gemini stream for %s failed: %v", m.name, err)
			select {
			case eventChan <- model.StreamError{Err: mapError(err)}:
			case <-ctx.Done():
			}
			return
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}

		var calls []model.ToolCall
		var text string
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text += string(p)
			case genai.FunctionCall:
				if !allowCalls {
					continue
				}
				args, err := json.Marshal(p.Args)
				if err != nil {
					args = []byte("{}")
				}
				// The session protocol carries no call ids; synthesize one
				// so result pairing stays uniform across adapters.
				calls = append(calls, model.ToolCall{
					ID:        fmt.Sprintf("call_%d", time.Now().UnixNano()),
					Name:      p.Name,
					Arguments: args,
				})
			}
		}

		if len(calls) > 0 {
			select {
			case eventChan <- model.ToolCallBatch{Calls: calls}:
			case <-ctx.Done():
				return
			}
		}
		if text != "" {
			select {
			case eventChan <- model.TextDelta{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// mapError rewrites provider errors into the descriptive phrasing the error
// taxonomy keys on, preserving the original via %w.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("authentication error: invalid API key: %w", err)
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("quota error: rate limit exceeded: %w", err)
	case apiErr.Code == http.StatusBadRequest:
		return fmt.Errorf("bad request: malformed generation request: %w", err)
	case apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("server error: provider returned status %d: %w", apiErr.Code, err)
	default:
		return err
	}
}
