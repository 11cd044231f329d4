package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://localhost:11434"

type ollamaConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIChatMsg `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaBackend struct {
	client     *http.Client
	baseURL    string
	contextLen int
}

func (b *ollamaBackend) Chat(ctx context.Context, req chatRequest) (*chatReply, error) {
	body := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
		Options: &ollamaOptions{
			NumPredict:  req.MaxTokens,
			NumCtx:      b.contextLen,
			Temperature: req.Temperature,
			Stop:        req.Stop,
		},
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, openAIChatMsg{Role: msg.Role, Content: msg.Content})
	}
	var out ollamaChatResponse
	if err := doJSON(ctx, b.client, "ollama", http.MethodPost, joinURL(b.baseURL, "/api/chat"), "", body, &out); err != nil {
		return nil, err
	}
	return &chatReply{
		Content:          strings.TrimSpace(out.Message.Content),
		Model:            out.Model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
	}, nil
}

func (b *ollamaBackend) Ping(ctx context.Context) error {
	return doJSON(ctx, b.client, "ollama", http.MethodGet, joinURL(b.baseURL, "/api/tags"), "", nil, nil)
}

type ollamaEmbedProvider struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func (p *ollamaEmbedProvider) Name() string {
	return "ollama"
}

func (p *ollamaEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	_ = taskType
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var out ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: model, Input: text}
	if err := doJSON(callCtx, p.client, "ollama", http.MethodPost, joinURL(p.baseURL, "/api/embed"), "", req, &out); err != nil {
		return nil, wrapCallError("ollama", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama response has no embeddings")
	}
	return out.Embeddings[0], nil
}

func createOllamaEmbedFactory(args ProviderArgs) (IEmbedProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args.Config, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &ollamaEmbedProvider{
		client:  httpClientOf(args),
		baseURL: baseURL,
		timeout: withDefault(time.Duration(cfg.TimeoutSeconds)*time.Second, defaultEmbedTimeout),
	}, nil
}

func init() {
	RegisterEmbed("ollama", createOllamaEmbedFactory)
}
