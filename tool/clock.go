//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package tool

import (
	"context"
	"time"
)

// ClockToolName is the function name providers use to request the current time.
const ClockToolName = "getCurrentTime"

// clockTool answers time questions without any external call.
type clockTool struct {
	decl *Declaration
	loc  *time.Location
	now  func() time.Time
}

// ClockOption configures the clock tool.
type ClockOption func(*clockTool)

// WithLocation sets the timezone the clock reports in.
func WithLocation(loc *time.Location) ClockOption {
	return func(c *clockTool) {
		c.loc = loc
	}
}

// WithNow overrides the time source. Intended for tests.
func WithNow(now func() time.Time) ClockOption {
	return func(c *clockTool) {
		c.now = now
	}
}

// NewClockTool creates the current-time tool.
func NewClockTool(opts ...ClockOption) CallableTool {
	c := &clockTool{
		decl: NewDeclaration(ClockToolName,
			"Gets the current date and time. Use it to answer any question "+
				"about the date, the day of the week, the current time or any "+
				"other temporal query."),
		loc: time.Local,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Declaration implements Tool.
func (c *clockTool) Declaration() *Declaration {
	return c.decl
}

// Call implements CallableTool. The argument payload is ignored; the tool
// takes no parameters.
func (c *clockTool) Call(_ context.Context, _ []byte) (map[string]any, error) {
	return map[string]any{
		"currentTime": c.now().In(c.loc).Format("Monday, 2 January 2006 15:04:05 MST"),
	}, nil
}

// FormatResult implements ResultFormatter.
func (c *clockTool) FormatResult(resp map[string]any) string {
	if s, ok := resp["currentTime"].(string); ok {
		return "Current time: " + s
	}
	return ""
}
