package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xxxsen/ctxcache/internal/model"
)

const (
	geminiProviderName  = "gemini"
	geminiHandlePrefix  = "cachedContents/"
	defaultGeminiModel  = "gemini-2.0-flash-001"
	defaultGeminiLimit  = 1048576
	geminiCharsPerToken = 4
)

type geminiConfig struct {
	APIKey               string `json:"api_key"`
	BaseURL              string `json:"base_url"`
	Model                string `json:"model"`
	ContextLimit         int    `json:"context_limit"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	HealthTimeoutSeconds int    `json:"health_timeout_seconds"`
}

// geminiProvider is the expandable tier: server-side caches referenced by name on every query.
type geminiProvider struct {
	client        *genai.Client
	model         string
	limit         int
	timeout       time.Duration
	healthTimeout time.Duration
}

func (p *geminiProvider) Name() string {
	return geminiProviderName
}

func (p *geminiProvider) Model() string {
	return p.model
}

func (p *geminiProvider) ContextLimit() int {
	return p.limit
}

func (p *geminiProvider) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + geminiCharsPerToken - 1) / geminiCharsPerToken
}

func (p *geminiProvider) OwnsHandle(name string) bool {
	return strings.HasPrefix(name, geminiHandlePrefix)
}

func (p *geminiProvider) CreateCache(ctx context.Context, content string, opts CreateCacheOptions) (*CacheInfo, error) {
	if p.client == nil {
		return nil, ErrUnavailable
	}
	tokens := p.EstimateTokens(content) + p.EstimateTokens(opts.SystemInstruction)
	if tokens > p.limit {
		return nil, &CapacityError{Provider: geminiProviderName, Tokens: tokens, Limit: p.limit}
	}
	modelName := p.modelFor(opts.Model)
	cfg := &genai.CreateCachedContentConfig{
		TTL:         cacheTTL(opts.TTL),
		DisplayName: opts.DisplayName,
		Contents:    []*genai.Content{genai.NewContentFromText(content, genai.RoleUser)},
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(opts.SystemInstruction)}}
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	cached, err := p.client.Caches.Create(callCtx, modelName, cfg)
	if err != nil {
		return nil, p.wrapError(err)
	}
	count := tokens
	if cached.UsageMetadata != nil && cached.UsageMetadata.TotalTokenCount > 0 {
		count = int(cached.UsageMetadata.TotalTokenCount)
	}
	if cached.Model != "" {
		modelName = cached.Model
	}
	logutil.GetLogger(ctx).Debug("gemini cache created",
		zap.String("name", cached.Name),
		zap.String("model", modelName),
		zap.Int("tokens", count),
	)
	return &CacheInfo{
		Handle:     model.CacheHandle{Provider: geminiProviderName, Name: cached.Name},
		Model:      modelName,
		TokenCount: count,
		ExpiresAt:  cached.ExpireTime,
	}, nil
}

func (p *geminiProvider) QueryCache(ctx context.Context, handle model.CacheHandle, query string, opts QueryOptions) (*model.QueryResult, error) {
	if p.client == nil {
		return nil, ErrUnavailable
	}
	cfg := p.generateConfig(opts)
	cfg.CachedContent = handle.Name
	return p.generate(ctx, p.modelFor(opts.Model), genai.Text(query), cfg)
}

func (p *geminiProvider) Query(ctx context.Context, contextText string, query string, opts QueryOptions) (*model.QueryResult, error) {
	if p.client == nil {
		return nil, ErrUnavailable
	}
	contents := make([]*genai.Content, 0, 2)
	if contextText != "" {
		contents = append(contents, genai.NewContentFromText(contextText, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(query, genai.RoleUser))
	return p.generate(ctx, p.modelFor(opts.Model), contents, p.generateConfig(opts))
}

func (p *geminiProvider) generate(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*model.QueryResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.client.Models.GenerateContent(callCtx, modelName, contents, cfg)
	if err != nil {
		return nil, p.wrapError(err)
	}
	res := &model.QueryResult{
		Response:   strings.TrimSpace(resp.Text()),
		Model:      modelName,
		Provider:   geminiProviderName,
		Expandable: true,
	}
	if resp.ModelVersion != "" {
		res.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		res.CachedTokens = int(resp.UsageMetadata.CachedContentTokenCount)
	}
	return res, nil
}

func (p *geminiProvider) generateConfig(opts QueryOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		StopSequences: opts.StopSequences,
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.Instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(opts.Instruction)}}
	}
	return cfg
}

func (p *geminiProvider) DeleteCache(ctx context.Context, handle model.CacheHandle) error {
	if p.client == nil {
		return ErrUnavailable
	}
	callCtx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()
	if _, err := p.client.Caches.Delete(callCtx, handle.Name, nil); err != nil {
		return p.wrapError(err)
	}
	return nil
}

func (p *geminiProvider) IsAvailable(ctx context.Context) bool {
	if p.client == nil {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()
	if _, err := p.client.Models.Get(callCtx, p.model, nil); err != nil {
		logutil.GetLogger(ctx).Debug("gemini health check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *geminiProvider) modelFor(preferred string) string {
	if preferred != "" {
		return preferred
	}
	return p.model
}

func (p *geminiProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: geminiProviderName, Status: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	return wrapCallError(geminiProviderName, err)
}

type geminiEmbedProvider struct {
	client  *genai.Client
	timeout time.Duration
}

func (p *geminiEmbedProvider) Name() string {
	return geminiProviderName
}

func (p *geminiEmbedProvider) Embed(ctx context.Context, modelName string, text string, taskType string) ([]float32, error) {
	if p.client == nil {
		return nil, ErrUnavailable
	}
	var config *genai.EmbedContentConfig
	if taskType != "" {
		config = &genai.EmbedContentConfig{
			TaskType: taskType,
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	resp, err := p.client.Models.EmbedContent(callCtx, modelName, genai.Text(text), config)
	if err != nil {
		return nil, wrapCallError(geminiProviderName, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}

func newGeminiClient(args ProviderArgs, cfg *geminiConfig) (*genai.Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: args.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return client, nil
}

func createGeminiFactory(args ProviderArgs) (IProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args.Config, cfg); err != nil {
		return nil, err
	}
	client, err := newGeminiClient(args, cfg)
	if err != nil {
		return nil, err
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	limit := cfg.ContextLimit
	if limit <= 0 {
		limit = defaultGeminiLimit
	}
	return &geminiProvider{
		client:        client,
		model:         modelName,
		limit:         limit,
		timeout:       withDefault(time.Duration(cfg.TimeoutSeconds)*time.Second, defaultCallTimeout),
		healthTimeout: withDefault(time.Duration(cfg.HealthTimeoutSeconds)*time.Second, defaultHealthTimeout),
	}, nil
}

func createGeminiEmbedFactory(args ProviderArgs) (IEmbedProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args.Config, cfg); err != nil {
		return nil, err
	}
	client, err := newGeminiClient(args, cfg)
	if err != nil {
		return nil, err
	}
	return &geminiEmbedProvider{
		client:  client,
		timeout: withDefault(time.Duration(cfg.TimeoutSeconds)*time.Second, defaultEmbedTimeout),
	}, nil
}

func init() {
	Register(geminiProviderName, createGeminiFactory)
	RegisterEmbed(geminiProviderName, createGeminiEmbedFactory)
}
