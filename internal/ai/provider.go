package ai

import "context"

// Message is one turn of conversation context handed to a provider. Role is
// "system", "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Provider produces the assistant's next reply for an AI-handled session.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, messages []Message) (string, error)

func (f ProviderFunc) Chat(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
