package providers

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/halcyonlabs/halcyon/internal/retry"
)

const condensePrompt = `You are a content rewriting specialist. Rewrite the following web page
section into precise, concise prose while keeping every important fact.

Requirements:
- Keep all key information, facts, and figures from the original
- Improve sentence structure and clarity
- Remove redundant phrasing without dropping substance
- Keep a neutral, objective tone
- Target 60-80%% of the original length

Web page section:
` + "```\n%s\n```"

const synthesizePrompt = `You are a content integration specialist. Combine the rewritten web
page sections below into one coherent, precise article.

Requirements:
- Merge the sections seamlessly, preserving logical flow
- Keep the content complete and avoid repetition
- Keep a professional, objective writing style
- Produce a full article, not a summary
- Keep the output under 2000 characters

Rewritten sections:
%s`

// Condenser rewrites and synthesizes web page content through the
// OpenAI chat API. It implements preprocess.Condenser.
type Condenser struct {
	client *openai.Client
	model  string
	retry  retry.Config
}

// NewCondenser builds a condenser on an existing OpenAI provider so
// the preprocessor shares the provider's client and model.
func NewCondenser(provider *OpenAIProvider) *Condenser {
	return &Condenser{
		client: provider.client,
		model:  provider.config.Model,
		retry:  provider.config.Retry,
	}
}

// Condense rewrites one content section.
func (c *Condenser) Condense(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, fmt.Sprintf(condensePrompt, text))
}

// Synthesize merges rewritten sections into one article. Sections are
// numbered so the model keeps the source order.
func (c *Condenser) Synthesize(ctx context.Context, sections []string) (string, error) {
	var sb strings.Builder
	for i, section := range sections {
		fmt.Fprintf(&sb, "Section %d:\n%s\n\n", i+1, section)
	}
	return c.complete(ctx, fmt.Sprintf(synthesizePrompt, sb.String()))
}

func (c *Condenser) complete(ctx context.Context, prompt string) (string, error) {
	return retry.DoWithValue(ctx, c.retry, func(ctx context.Context) (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return "", classifyAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat completion returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}
