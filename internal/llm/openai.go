package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcrt-dev/rcrt/internal/rerrors"
)

// OpenAIClient wraps go-openai for a single non-streaming chat completion,
// kept as a second provider for model-agnostic configuration alongside
// AnthropicClient, grounded on the teacher's OpenAIProvider.Complete
// request shaping without the streaming loop.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIClient constructs a client against the default OpenAI API URL.
func NewOpenAIClient(apiKey, defaultModel string) *OpenAIClient {
	return NewOpenAIClientWithBaseURL(apiKey, "", defaultModel)
}

// NewOpenAIClientWithBaseURL overrides the API base URL, used by tests
// to point the client at an httptest server.
func NewOpenAIClientWithBaseURL(apiKey, baseURL, defaultModel string) *OpenAIClient {
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Response{}, rerrors.New(classifyLLMErr(ctx, err), "llm.OpenAI.Complete", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, rerrors.New(rerrors.KindLLMParse, "llm.OpenAI.Complete", fmt.Errorf("no choices in reply"))
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
