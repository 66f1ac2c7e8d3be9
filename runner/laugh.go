//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package runner

import (
	"regexp"
	"strings"
)

// laughExpressions match short laughter-only messages. Those are answered
// locally with a canned reply instead of spending a provider round trip.
var laughExpressions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^j(a|i)+j(a|i)+j(a|i)*$`),
	regexp.MustCompile(`(?i)^j+$`),
	regexp.MustCompile(`(?i)^x[d]+$`),
	regexp.MustCompile(`(?i)^lo+l$`),
	regexp.MustCompile(`(?i)^(ha|he)(ha|he)+$`),
	regexp.MustCompile(`😂`),
	regexp.MustCompile(`🤣`),
}

var laughResponses = []string{
	"Glad you liked it! 😄",
	"Great, I knew that would make you laugh!",
	"Perfect! What else can I help you with?",
}

const jokeFollowUpResponse = "Good one, right? Want to hear another?"

func isLaugh(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, re := range laughExpressions {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// laughResponse picks the canned reply. When the previous AI message was a
// joke, it sometimes offers a follow-up instead.
func (r *Runner) laughResponse(lastAIText string) string {
	wasJoke := strings.Contains(strings.ToLower(lastAIText), "joke")
	if wasJoke && r.rng.Float64() > 0.5 {
		return jokeFollowUpResponse
	}
	return laughResponses[r.rng.Intn(len(laughResponses))]
}
