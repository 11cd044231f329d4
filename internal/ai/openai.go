package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIChatMsg `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// openAIBackend speaks the OpenAI-compatible chat dialect (vLLM, llama.cpp server, LM Studio...).
type openAIBackend struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

func (b *openAIBackend) Chat(ctx context.Context, req chatRequest) (*chatReply, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Stream:      false,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, openAIChatMsg{Role: msg.Role, Content: msg.Content})
	}
	var out openAIChatResponse
	if err := doJSON(ctx, b.client, "openai", http.MethodPost, joinURL(b.baseURL, "/chat/completions"), b.apiKey, body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}
	return &chatReply{
		Content:          strings.TrimSpace(out.Choices[0].Message.Content),
		Model:            out.Model,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

func (b *openAIBackend) Ping(ctx context.Context) error {
	return doJSON(ctx, b.client, "openai", http.MethodGet, joinURL(b.baseURL, "/models"), b.apiKey, nil, nil)
}

type openAIEmbedProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
	timeout time.Duration
}

func (p *openAIEmbedProvider) Name() string {
	return "openai"
}

func (p *openAIEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	_ = taskType
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var out openAIEmbedResponse
	req := openAIEmbedRequest{Model: model, Input: text}
	if err := doJSON(callCtx, p.client, "openai", http.MethodPost, joinURL(p.baseURL, "/embeddings"), p.apiKey, req, &out); err != nil {
		return nil, wrapCallError("openai", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai response has no embeddings")
	}
	return out.Data[0].Embedding, nil
}

func createOpenAIEmbedFactory(args ProviderArgs) (IEmbedProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args.Config, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIEmbedProvider{
		client:  httpClientOf(args),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		timeout: withDefault(time.Duration(cfg.TimeoutSeconds)*time.Second, defaultEmbedTimeout),
	}, nil
}

func init() {
	RegisterEmbed("openai", createOpenAIEmbedFactory)
}
