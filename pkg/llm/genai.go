package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIProvider backs the "google" routing profile — the context-heavy /
// large-window profile (§4.9) — since Gemini's context window dwarfs the
// other two providers in this deployment.
type GenAIProvider struct {
	client *genai.Client
}

// NewGenAIProvider builds a client from an explicit API key.
func NewGenAIProvider(ctx context.Context, apiKey string) (*GenAIProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build genai client: %w", err)
	}
	return &GenAIProvider{client: client}, nil
}

func (p *GenAIProvider) Name() string { return "google" }

func toGenAIContents(msgs []Message) ([]*genai.Content, string) {
	var system string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system += m.Content + "\n"
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}

func (p *GenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	out := make(chan StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		contents, system := toGenAIContents(req.Messages)
		cfg := &genai.GenerateContentConfig{
			MaxOutputTokens: int32(req.MaxTokens),
		}
		if system != "" {
			cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}

		for result, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				errCh <- fmt.Errorf("genai stream: %w", err)
				return
			}
			text := result.Text()
			if text == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		out <- StreamChunk{Done: true}
	}()

	return out, errCh
}

func (p *GenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	contents, system := toGenAIContents(req.Messages)
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("genai complete: %w", err)
	}
	return resp.Text(), nil
}
