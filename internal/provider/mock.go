package provider

import "context"

// Mock returns a canned reply; used in development and tests.
type Mock struct {
	Reply string
}

func (m *Mock) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	if m.Reply != "" {
		return m.Reply, nil
	}
	return "That's a great question! Let's figure it out together.", nil
}
