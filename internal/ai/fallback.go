package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/model"
)

// PermissionFunc decides whether an escalation to the fallback provider may proceed.
type PermissionFunc func(ctx context.Context, event model.FallbackEvent) (bool, error)

type FallbackConfig struct {
	AutoFallbackLargeContext bool
	CapacityRatio            float64

	// Permission may be nil, in which case every escalation is granted.
	Permission PermissionFunc
}

// FallbackClient composes a bounded primary and an expandable fallback behind IProvider.
type FallbackClient struct {
	primary  IProvider
	fallback IProvider
	cfg      FallbackConfig

	mu     sync.RWMutex
	owners map[string]IProvider
}

var _ IProvider = (*FallbackClient)(nil)

func NewFallbackClient(primary IProvider, fallback IProvider, cfg FallbackConfig) *FallbackClient {
	if cfg.CapacityRatio <= 0 || cfg.CapacityRatio > 1 {
		cfg.CapacityRatio = CapacityRatio
	}
	return &FallbackClient{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		owners:   make(map[string]IProvider),
	}
}

func (c *FallbackClient) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *FallbackClient) Model() string {
	return c.primary.Model()
}

func (c *FallbackClient) ContextLimit() int {
	if c.fallback.ContextLimit() > c.primary.ContextLimit() {
		return c.fallback.ContextLimit()
	}
	return c.primary.ContextLimit()
}

func (c *FallbackClient) EstimateTokens(text string) int {
	return c.primary.EstimateTokens(text)
}

func (c *FallbackClient) Providers() []IProvider {
	return []IProvider{c.primary, c.fallback}
}

func (c *FallbackClient) CreateCache(ctx context.Context, content string, opts CreateCacheOptions) (*CacheInfo, error) {
	var info *CacheInfo
	err := c.route(ctx, c.primary.EstimateTokens(content), func(p IProvider, escalated bool) error {
		var err error
		info, err = p.CreateCache(ctx, content, c.createOptionsFor(opts, escalated))
		if err != nil {
			return err
		}
		if info.Handle.Provider == "" {
			info.Handle.Provider = p.Name()
		}
		c.remember(info.Handle.Name, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (c *FallbackClient) Query(ctx context.Context, contextText string, query string, opts QueryOptions) (*model.QueryResult, error) {
	var res *model.QueryResult
	tokens := c.primary.EstimateTokens(contextText) + c.primary.EstimateTokens(query)
	err := c.route(ctx, tokens, func(p IProvider, escalated bool) error {
		o := opts
		if escalated {
			o.Model = ""
		}
		var err error
		res, err = p.Query(ctx, contextText, query, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// route runs call against the primary unless size, health or a runtime failure
// force an escalation; escalated reports whether the fallback is serving.
func (c *FallbackClient) route(ctx context.Context, tokens int, call func(p IProvider, escalated bool) error) error {
	logger := logutil.GetLogger(ctx)
	limit := int(float64(c.primary.ContextLimit()) * c.cfg.CapacityRatio)
	if tokens > limit {
		if !c.cfg.AutoFallbackLargeContext {
			return &CapacityError{Provider: c.primary.Name(), Tokens: tokens, Limit: limit}
		}
		detail := fmt.Sprintf("content needs ~%d tokens, %s accepts %d", tokens, c.primary.Name(), limit)
		if err := c.requestFallback(ctx, model.FallbackContextTooLarge, detail); err != nil {
			return err
		}
		return call(c.fallback, true)
	}
	if !c.primary.IsAvailable(ctx) {
		detail := fmt.Sprintf("%s health check failed", c.primary.Name())
		if err := c.requestFallback(ctx, model.FallbackLocalUnavailable, detail); err != nil {
			return err
		}
		return call(c.fallback, true)
	}
	err := call(c.primary, false)
	if err == nil {
		return nil
	}
	reason := model.FallbackLocalError
	if errors.Is(err, ErrTimeout) {
		reason = model.FallbackTimeout
	}
	logger.Warn("primary provider failed", zap.String("provider", c.primary.Name()), zap.String("reason", string(reason)), zap.Error(err))
	if perr := c.requestFallback(ctx, reason, err.Error()); perr != nil {
		return perr
	}
	return call(c.fallback, true)
}

func (c *FallbackClient) requestFallback(ctx context.Context, reason model.FallbackReason, detail string) error {
	event := model.FallbackEvent{
		Reason:        reason,
		PrimaryModel:  c.primary.Model(),
		FallbackModel: c.fallback.Model(),
		Detail:        detail,
	}
	logger := logutil.GetLogger(ctx).With(zap.String("reason", string(reason)), zap.String("detail", detail))
	if c.cfg.Permission == nil {
		logger.Info("escalating to fallback provider")
		return nil
	}
	ok, err := c.cfg.Permission(ctx, event)
	if err != nil {
		return fmt.Errorf("fallback permission: %w", err)
	}
	if !ok {
		logger.Info("fallback escalation denied")
		return &FallbackDeniedError{Reason: reason, Detail: detail}
	}
	logger.Info("escalating to fallback provider with permission")
	return nil
}

func (c *FallbackClient) createOptionsFor(opts CreateCacheOptions, escalated bool) CreateCacheOptions {
	if escalated {
		// a preferred model names a primary model and means nothing to the fallback
		opts.Model = ""
	}
	return opts
}

func (c *FallbackClient) remember(name string, p IProvider) {
	c.mu.Lock()
	c.owners[name] = p
	c.mu.Unlock()
}

func (c *FallbackClient) forget(name string) {
	c.mu.Lock()
	delete(c.owners, name)
	c.mu.Unlock()
}

// owner resolves the provider for a handle: explicit tag, then recorded mapping, then naming convention.
func (c *FallbackClient) owner(handle model.CacheHandle) (IProvider, bool) {
	for _, p := range c.Providers() {
		if handle.Provider != "" && handle.Provider == p.Name() {
			return p, true
		}
	}
	c.mu.RLock()
	p, ok := c.owners[handle.Name]
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	for _, p := range c.Providers() {
		if o, ok := p.(handleOwner); ok && o.OwnsHandle(handle.Name) {
			return p, true
		}
	}
	return nil, false
}

// QueryCache never retries on the other provider: handles are not portable.
func (c *FallbackClient) QueryCache(ctx context.Context, handle model.CacheHandle, query string, opts QueryOptions) (*model.QueryResult, error) {
	p, ok := c.owner(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle.Name)
	}
	return p.QueryCache(ctx, handle, query, opts)
}

func (c *FallbackClient) DeleteCache(ctx context.Context, handle model.CacheHandle) error {
	defer c.forget(handle.Name)
	if p, ok := c.owner(handle); ok {
		return p.DeleteCache(ctx, handle)
	}
	// unowned handles go to both providers; one success is enough
	var errs []error
	deleted := false
	for _, p := range c.Providers() {
		if err := p.DeleteCache(ctx, handle); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = true
	}
	if deleted {
		return nil
	}
	return errors.Join(errs...)
}

func (c *FallbackClient) IsAvailable(ctx context.Context) bool {
	return c.primary.IsAvailable(ctx) || c.fallback.IsAvailable(ctx)
}
