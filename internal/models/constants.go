// Package models contains constants and model definitions for the chat completion endpoint.
package models

import "github.com/sashabaranov/go-openai"

// Endpoints for the completion API
const (
	EndpointChatCompletions = "https://api.openai.com/v1/chat/completions"
)

// Request defaults
const (
	DefaultMaxTokens      = 300
	DefaultTimeoutSeconds = 30

	// MaxMessageLength is the longest user message, in runes, the engine accepts.
	MaxMessageLength = 1000
)

// Assistant persona and canned replies
const (
	AssistantName = "Bolt"

	PersonaPrompt = "You are Bolt, an expert AI assistant and exceptional senior software developer. " +
		"Provide concise and helpful answers."

	WelcomeText = "Hello! I'm Bolt, your expert AI assistant and senior software developer. I can help you with:\n\n" +
		"• Code review and optimization\n" +
		"• Architecture decisions\n" +
		"• Debugging complex issues\n" +
		"• Best practices across multiple languages\n" +
		"• Framework recommendations\n" +
		"• Performance optimization\n\n" +
		"What can I help you build today?"

	FallbackReply = "Sorry, I couldn't generate a response."

	MissingCredentialReply = "I can't connect to the AI service. " +
		"Please configure your OpenAI API key with `boltchat key set`."
)

// Model represents a chat completion model
type Model struct {
	Name        string
	Description string
}

// Available models
var (
	ModelGPT35Turbo = Model{
		Name:        openai.GPT3Dot5Turbo,
		Description: "Fast and inexpensive",
	}

	ModelGPT4 = Model{
		Name:        openai.GPT4,
		Description: "More capable, slower",
	}

	ModelGPT432K = Model{
		Name:        openai.GPT432K,
		Description: "Large context",
	}

	// DefaultModel is the model used when none is configured
	DefaultModel = ModelGPT35Turbo
)

// AllModels returns a list of all known models
func AllModels() []Model {
	return []Model{ModelGPT35Turbo, ModelGPT4, ModelGPT432K}
}

// ModelFromName returns a Model by its name. Unknown names are passed through
// unchanged so OpenAI-compatible endpoints can serve their own models; an empty
// name resolves to DefaultModel.
func ModelFromName(name string) Model {
	if name == "" {
		return DefaultModel
	}
	for _, m := range AllModels() {
		if m.Name == name {
			return m
		}
	}
	return Model{Name: name}
}

// DefaultHeaders returns the headers sent with every completion request
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"User-Agent":   "boltchat/" + Version,
	}
}

// Version is the client version reported in the User-Agent header (set at build time)
var Version = "0.1.0"
