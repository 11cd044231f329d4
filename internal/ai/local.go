package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/idutil"
	"github.com/xxxsen/ctxcache/internal/store"
)

const (
	localProviderName   = "local"
	localHandlePrefix   = "local-"
	defaultLocalLimit   = 32768
	localCharsPerTokenX = 7 // 7 chars per 2 tokens
)

type localConfig struct {
	Dialect              string `json:"dialect"`
	BaseURL              string `json:"base_url"`
	APIKey               string `json:"api_key"`
	Model                string `json:"model"`
	ContextLimit         int    `json:"context_limit"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	HealthTimeoutSeconds int    `json:"health_timeout_seconds"`
}

type chatMessage struct {
	Role    string
	Content string
}

type chatRequest struct {
	Model       string
	Messages    []chatMessage
	MaxTokens   int
	Temperature *float64
	Stop        []string
}

type chatReply struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type chatBackend interface {
	Chat(ctx context.Context, req chatRequest) (*chatReply, error)
	Ping(ctx context.Context) error
}

// localEntry is what the bounded provider keeps in the content store in place of a native cache.
type localEntry struct {
	Content           string    `json:"content"`
	SystemInstruction string    `json:"system_instruction,omitempty"`
	Model             string    `json:"model"`
	TokenCount        int       `json:"token_count"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type localProvider struct {
	backend       chatBackend
	store         store.ContentStore
	model         string
	limit         int
	timeout       time.Duration
	healthTimeout time.Duration
	now           func() time.Time
}

func newLocalProvider(backend chatBackend, st store.ContentStore, modelName string, limit int, timeout, healthTimeout time.Duration) *localProvider {
	if limit <= 0 {
		limit = defaultLocalLimit
	}
	return &localProvider{
		backend:       backend,
		store:         st,
		model:         modelName,
		limit:         limit,
		timeout:       withDefault(timeout, defaultCallTimeout),
		healthTimeout: withDefault(healthTimeout, defaultHealthTimeout),
		now:           time.Now,
	}
}

func (p *localProvider) Name() string {
	return localProviderName
}

func (p *localProvider) Model() string {
	return p.model
}

func (p *localProvider) ContextLimit() int {
	return p.limit
}

func (p *localProvider) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n*2 + localCharsPerTokenX - 1) / localCharsPerTokenX
}

func (p *localProvider) OwnsHandle(name string) bool {
	return strings.HasPrefix(name, localHandlePrefix)
}

func (p *localProvider) usableLimit() int {
	return int(float64(p.limit) * CapacityRatio)
}

func (p *localProvider) CreateCache(ctx context.Context, content string, opts CreateCacheOptions) (*CacheInfo, error) {
	tokens := p.EstimateTokens(content) + p.EstimateTokens(opts.SystemInstruction)
	if tokens > p.usableLimit() {
		return nil, &CapacityError{Provider: localProviderName, Tokens: tokens, Limit: p.usableLimit()}
	}
	ttl := cacheTTL(opts.TTL)
	now := p.now()
	modelName := p.modelFor(opts.Model)
	entry := localEntry{
		Content:           content,
		SystemInstruction: opts.SystemInstruction,
		Model:             modelName,
		TokenCount:        tokens,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode local cache entry: %w", err)
	}
	name := idutil.NewPrefixed(localHandlePrefix)
	if err := p.store.Set(ctx, name, data, ttl); err != nil {
		return nil, fmt.Errorf("store local cache: %w", err)
	}
	logutil.GetLogger(ctx).Debug("local cache stored",
		zap.String("name", name),
		zap.String("display_name", opts.DisplayName),
		zap.Int("tokens", tokens),
	)
	return &CacheInfo{
		Handle:     model.CacheHandle{Provider: localProviderName, Name: name},
		Model:      modelName,
		TokenCount: tokens,
		ExpiresAt:  entry.ExpiresAt,
	}, nil
}

func (p *localProvider) QueryCache(ctx context.Context, handle model.CacheHandle, query string, opts QueryOptions) (*model.QueryResult, error) {
	data, err := p.store.Get(ctx, handle.Name)
	if err != nil {
		return nil, fmt.Errorf("load local cache %s: %w", handle.Name, err)
	}
	var entry localEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode local cache %s: %w", handle.Name, err)
	}
	if opts.Model == "" {
		opts.Model = entry.Model
	}
	instruction := entry.SystemInstruction
	if opts.Instruction != "" {
		instruction = opts.Instruction
	}
	opts.Instruction = instruction
	return p.Query(ctx, entry.Content, query, opts)
}

func (p *localProvider) Query(ctx context.Context, contextText string, query string, opts QueryOptions) (*model.QueryResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req := chatRequest{
		Model:       p.modelFor(opts.Model),
		Messages:    buildMessages(opts.Instruction, contextText, query),
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
		Stop:        opts.StopSequences,
	}
	reply, err := p.backend.Chat(callCtx, req)
	if err != nil {
		return nil, wrapCallError(localProviderName, err)
	}
	used := reply.PromptTokens + reply.CompletionTokens
	if used == 0 {
		used = p.EstimateTokens(contextText) + p.EstimateTokens(query) + p.EstimateTokens(reply.Content)
	}
	modelName := reply.Model
	if modelName == "" {
		modelName = req.Model
	}
	return &model.QueryResult{
		Response:   reply.Content,
		TokensUsed: used,
		Model:      modelName,
		Provider:   localProviderName,
	}, nil
}

func (p *localProvider) DeleteCache(ctx context.Context, handle model.CacheHandle) error {
	return p.store.Delete(ctx, handle.Name)
}

func (p *localProvider) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()
	if err := p.backend.Ping(ctx); err != nil {
		logutil.GetLogger(ctx).Debug("local provider health check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *localProvider) modelFor(preferred string) string {
	if preferred != "" {
		return preferred
	}
	return p.model
}

func buildMessages(instruction string, contextText string, query string) []chatMessage {
	var sb strings.Builder
	if instruction != "" {
		sb.WriteString(instruction)
		sb.WriteString("\n\n")
	}
	if contextText != "" {
		sb.WriteString("Use the following material to answer.\n\n")
		sb.WriteString(contextText)
	}
	msgs := make([]chatMessage, 0, 2)
	if sb.Len() > 0 {
		msgs = append(msgs, chatMessage{Role: "system", Content: sb.String()})
	}
	return append(msgs, chatMessage{Role: "user", Content: query})
}

func createLocalFactory(args ProviderArgs) (IProvider, error) {
	cfg := &localConfig{}
	if err := decodeConfig(args.Config, cfg); err != nil {
		return nil, err
	}
	if args.Store == nil {
		return nil, fmt.Errorf("local provider requires a content store")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("providers.local.model is required")
	}
	client := httpClientOf(args)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	limit := cfg.ContextLimit
	if limit <= 0 {
		limit = defaultLocalLimit
	}
	var backend chatBackend
	switch strings.ToLower(strings.TrimSpace(cfg.Dialect)) {
	case "", "ollama":
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		backend = &ollamaBackend{client: client, baseURL: baseURL, contextLen: limit}
	case "openai":
		if baseURL == "" {
			return nil, fmt.Errorf("providers.local.base_url is required for openai dialect")
		}
		backend = &openAIBackend{client: client, apiKey: strings.TrimSpace(cfg.APIKey), baseURL: baseURL}
	default:
		return nil, fmt.Errorf("unsupported local dialect: %s", cfg.Dialect)
	}
	return newLocalProvider(backend, args.Store, strings.TrimSpace(cfg.Model), limit,
		time.Duration(cfg.TimeoutSeconds)*time.Second,
		time.Duration(cfg.HealthTimeoutSeconds)*time.Second), nil
}

func init() {
	Register(localProviderName, createLocalFactory)
}
