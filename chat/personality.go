//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

package chat

// Personality selects the provider, model and conversational framing used by
// a conversation.
type Personality string

const (
	// PersonalityFlash is the general-purpose assistant backed by Gemini.
	PersonalityFlash Personality = "flash"
	// PersonalityDeveloper is the programming assistant backed by OpenAI.
	PersonalityDeveloper Personality = "developer"
)

// DefaultPersonality is used when none is specified.
const DefaultPersonality = PersonalityFlash

// ProviderKind identifies which provider adapter serves a personality.
type ProviderKind string

const (
	// ProviderGoogle routes generation through the session-based Gemini adapter.
	ProviderGoogle ProviderKind = "google"
	// ProviderOpenAI routes generation through the streaming chat-completion adapter.
	ProviderOpenAI ProviderKind = "openai"
)

// ConversationType affects which input affordances a personality offers.
type ConversationType string

const (
	// TypeChat is a plain conversational personality with file attach support.
	TypeChat ConversationType = "chat"
	// TypeImage is an image-generation personality.
	TypeImage ConversationType = "image"
	// TypeRAG is a retrieval-augmented personality.
	TypeRAG ConversationType = "rag"
)

// PersonalityConfig pins the provider, model, instructions and welcome text
// for one personality. The catalog is read-only reference data.
type PersonalityConfig struct {
	Name              string
	Provider          ProviderKind
	Model             string
	Type              ConversationType
	SystemInstruction string
	WelcomeMessage    string
}

// PersonalityOrder is the display order of the catalog.
var PersonalityOrder = []Personality{PersonalityFlash, PersonalityDeveloper}

const flashSystemInstruction = "You are an assistant that helps with any topic. " +
	"When you see images with exercises, read the exercise number and the part " +
	"you are asked for carefully. For math, work step by step and use LaTeX " +
	"between $ or $$. For 3x3 matrix determinants use cofactors or the rule of " +
	"Sarrus. Always read the whole image before answering."

const developerSystemInstruction = "You are a programmer who also knows math. " +
	"If you see images with exercises, identify exactly which one you are asked " +
	"to solve. For math use LaTeX and explain the steps. For code use markdown. " +
	"Read images carefully before answering."

var personalities = map[Personality]PersonalityConfig{
	PersonalityFlash: {
		Name:              "Flash model",
		Provider:          ProviderGoogle,
		Model:             "gemini-1.5-flash",
		Type:              TypeChat,
		SystemInstruction: flashSystemInstruction,
		WelcomeMessage:    "Hi! How can I help?",
	},
	PersonalityDeveloper: {
		Name:              "Developer model",
		Provider:          ProviderOpenAI,
		Model:             "gpt-4o-mini",
		Type:              TypeChat,
		SystemInstruction: developerSystemInstruction,
		WelcomeMessage:    "Hey! What are we building?",
	},
}

// Config returns the configuration for a personality, falling back to the
// default personality for unknown values.
func Config(p Personality) PersonalityConfig {
	if cfg, ok := personalities[p]; ok {
		return cfg
	}
	return personalities[DefaultPersonality]
}
