// Package generation talks to the external language-generation service.
package generation

import (
	"context"
	"time"
)

// Message roles understood by chat-completion backends.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of the conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a structured generation request.
type Request struct {
	SystemPrompt string
	Messages     []Message
	// MaxTokens caps the reply length. Zero uses the backend default.
	MaxTokens int
}

// Generator produces one utterance for a request.
// Every failure is returned as *Error.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// WithTimeout bounds every call to g by d. A non-positive d returns g unchanged.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return Func(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		text, err := g.Generate(ctx, req)
		if err != nil {
			return "", Wrap(err)
		}
		return text, nil
	})
}

// Unavailable always fails with Message. It stands in for a backend that
// is not configured, so the start check reports why the study cannot begin.
type Unavailable struct {
	Message string
}

// Generate implements Generator.
func (u Unavailable) Generate(context.Context, Request) (string, error) {
	return "", &Error{Message: u.Message}
}

// Validate fails like Generate.
func (u Unavailable) Validate(context.Context) error {
	return &Error{Message: u.Message}
}
