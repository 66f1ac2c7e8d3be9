//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package openai adapts OpenAI-compatible chat-completion endpoints to the
// unified streaming contract. Tool calls arrive as index-addressed fragments
// spread over the SSE stream; the adapter reassembles them and emits a single
// batch after the stream has drained.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/vortex-chat/log"
	"trpc.group/trpc-go/vortex-chat/model"
	"trpc.group/trpc-go/vortex-chat/tool"
)

// defaultChannelBufferSize is the default event channel buffer size.
const defaultChannelBufferSize = 256

// Model is a chat-completion streaming adapter for one provider-side model.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
}

type options struct {
	apiKey            string
	baseURL           string
	httpClient        *http.Client
	channelBufferSize int
}

// Option configures the adapter.
type Option func(*options)

// WithAPIKey sets the API key used for authentication.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
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
func New(name string, opts ...Option) *Model {
	o := &options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}

	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.httpClient))
	}

	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.channelBufferSize,
	}
}

// GenerateStream starts one streaming completion. The returned channel yields
// text deltas as they arrive; assembled tool calls, if any, follow as one
// batch once the underlying stream has completed.
func (m *Model) GenerateStream(ctx context.Context, req *model.Request) (<-chan model.Event, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	params := m.buildParams(req)

	eventChan := make(chan model.Event, m.channelBufferSize)
	go m.handleStream(ctx, params, eventChan)
	return eventChan, nil
}

func (m *Model) buildParams(req *model.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+4)

	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.SystemInstruction),
				},
			},
		})
	}

	for _, turn := range req.History {
		switch turn.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(turn.Text),
					},
				},
			})
		default:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(turn.Text),
					},
				},
			})
		}
	}

	messages = append(messages, m.userMessage(req))

	// Replay every completed tool exchange of the turn in flight, so the
	// endpoint sees each assistant tool-call turn followed by its answers.
	for _, round := range req.ToolRounds {
		echo := &openai.ChatCompletionAssistantMessageParam{
			ToolCalls: convertToolCalls(round.Calls),
		}
		if round.Text != "" {
			echo.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(round.Text),
			}
		}
		messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: echo})
		for _, result := range round.Results {
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(result.Content),
					},
					ToolCallID: result.CallID,
				},
			})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params
}

// userMessage builds the new user turn, attaching an image as an inline
// data-URL content part when present. Non-image attachments are not sent on
// this wire format; the caller routes those through a file analyzer instead.
func (m *Model) userMessage(req *model.Request) openai.ChatCompletionMessageParamUnion {
	if req.Attachment == nil || !req.Attachment.IsImage() {
		return openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(req.UserText),
				},
			},
		}
	}
	parts := []openai.ChatCompletionContentPartUnionParam{
		{
			OfText: &openai.ChatCompletionContentPartTextParam{Text: req.UserText},
		},
		{
			OfImageURL: &openai.ChatCompletionContentPartImageParam{
				ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:" + req.Attachment.MIMEType + ";base64," + req.Attachment.Encode(),
				},
			},
		},
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

func convertToolCalls(calls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	result := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, call := range calls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: string(call.Arguments),
			},
		})
	}
	return result
}

func convertTools(decls []*tool.Declaration) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, decl := range decls {
		properties := make(map[string]any, len(decl.Parameters))
		for name, prop := range decl.Parameters {
			p := map[string]any{
				"type":        prop.Type,
				"description": prop.Description,
			}
			if len(prop.Enum) > 0 {
				p["enum"] = prop.Enum
			}
			properties[name] = p
		}
		parameters := shared.FunctionParameters{
			"type":       "object",
			"properties": properties,
		}
		if len(decl.Required) > 0 {
			parameters["required"] = decl.Required
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        decl.Name,
				Description: openai.String(decl.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

// pendingCall accumulates one tool call's fragments by stream index.
type pendingCall struct {
	id   string
	name string
	args []byte
}

func (m *Model) handleStream(ctx context.Context, params openai.ChatCompletionNewParams, eventChan chan<- model.Event) {
	defer close(eventChan)

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	pending := make(map[int64]*pendingCall)

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		for _, fragment := range delta.ToolCalls {
			call := pending[fragment.Index]
			if call == nil {
				call = &pendingCall{}
				pending[fragment.Index] = call
			}
			if fragment.ID != "" {
				call.id = fragment.ID
			}
			if fragment.Function.Name != "" {
				call.name = fragment.Function.Name
			}
			call.args = append(call.args, fragment.Function.Arguments...)
		}

		if delta.Content == "" {
			continue
		}
		select {
		case eventChan <- model.TextDelta{Text: delta.Content}:
		case <-ctx.Done():
			return
		}
	}

	if err := stream.Err(); err != nil {
		log.Debugf("chat completion stream for %s failed: %v", m.name, err)
		select {
		case eventChan <- model.StreamError{Err: mapError(err)}:
		case <-ctx.Done():
		}
		return
	}

	if len(pending) == 0 {
		return
	}
	indices := make([]int64, 0, len(pending))
	for index := range pending {
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	calls := make([]model.ToolCall, 0, len(pending))
	for _, index := range indices {
		call := pending[index]
		if call.id == "" && call.name == "" {
			continue
		}
		args := call.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		calls = append(calls, model.ToolCall{ID: call.id, Name: call.name, Arguments: args})
	}
	if len(calls) == 0 {
		return
	}
	select {
	case eventChan <- model.ToolCallBatch{Calls: calls}:
	case <-ctx.Done():
	}
}

// mapError rewrites provider errors into the descriptive phrasing the error
// taxonomy keys on, preserving the original via %w.
func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("authentication error: invalid API key: %w", err)
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("quota error: rate limit exceeded: %w", err)
	case apiErr.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("bad request: malformed generation request: %w", err)
	case apiErr.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("server error: provider returned status %d: %w", apiErr.StatusCode, err)
	default:
		return err
	}
}
