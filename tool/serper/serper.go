//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/vortex-chat/tool"
)

// ToolName is the function name providers use to request an internet search.
const ToolName = "internetSearch"

// formattedResults caps how many results are rendered into the text form fed
// back to chat-completion providers.
const formattedResults = 5

// searchTool adapts the Serper client to the CallableTool contract.
type searchTool struct {
	decl   *tool.Declaration
	client *Client
}

// NewTool wraps a Serper client as the internetSearch tool.
func NewTool(client *Client) tool.CallableTool {
	return &searchTool{
		decl: tool.NewDeclaration(ToolName,
			"Searches the internet for real-time information about a specific "+
				"topic. Use it for recent events, prices, sports results and "+
				"similar time-sensitive queries.").
			WithStringParam("query", "The precise search query to run."),
		client: client,
	}
}

// Declaration implements tool.Tool.
func (t *searchTool) Declaration() *tool.Declaration {
	return t.decl
}

type searchArgs struct {
	Query string `json:"query"`
}

// Call implements tool.CallableTool.
func (t *searchTool) Call(ctx context.Context, jsonArgs []byte) (map[string]any, error) {
	var args searchArgs
	if err := json.Unmarshal(jsonArgs, &args); err != nil {
		return nil, fmt.Errorf("decode internetSearch arguments: %w", err)
	}

	results, err := t.client.Search(ctx, args.Query)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{
			"title":   r.Title,
			"snippet": r.Snippet,
			"link":    r.Link,
		})
	}
	return map[string]any{"results": items}, nil
}

// FormatResult implements tool.ResultFormatter: a numbered plain-text list of
// the top results, or a no-results marker.
func (t *searchTool) FormatResult(resp map[string]any) string {
	items, _ := resp["results"].([]map[string]any)
	if len(items) == 0 {
		return "No results found."
	}
	if len(items) > formattedResults {
		items = items[:formattedResults]
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %v\n%v\n%v", i+1, item["title"], item["snippet"], item["link"])
	}
	return b.String()
}
