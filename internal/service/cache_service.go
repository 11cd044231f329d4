package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/ai"
	"github.com/xxxsen/ctxcache/internal/chunker"
	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
	"github.com/xxxsen/ctxcache/internal/retrieval"
)

const (
	defaultCacheTTL = 60 * time.Minute
	recoveryCall    = "refresh"
)

var aliasRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// CacheStorage persists CacheRecords keyed by alias. Save must be an atomic upsert on alias.
type CacheStorage interface {
	Save(ctx context.Context, rec *model.CacheRecord) error
	GetByAlias(ctx context.Context, alias string) (*model.CacheRecord, error)
	GetByName(ctx context.Context, name string) (*model.CacheRecord, error)
	List(ctx context.Context) ([]*model.CacheRecord, error)
	DeleteByAlias(ctx context.Context, alias string) error
	Update(ctx context.Context, rec *model.CacheRecord) error
}

type SourceResolver interface {
	Resolve(ctx context.Context, descriptor string) (*model.LoadedSource, error)
}

type UsageLogger interface {
	Log(ctx context.Context, rec *model.UsageRecord) error
}

type CacheServiceOptions struct {
	DefaultTTL time.Duration
	Chunker    chunker.Options

	// Usage and Indexer are optional.
	Usage   UsageLogger
	Indexer retrieval.Indexer
}

type LoadRequest struct {
	Alias             string
	Sources           []string
	TTL               time.Duration
	SystemInstruction string
	Model             string
}

type RefreshRequest struct {
	TTL time.Duration
}

type CacheQueryRequest struct {
	Query           string
	Instruction     string
	MaxOutputTokens int
	Temperature     *float64
	StopSequences   []string
}

// CacheQueryResult carries either a provider answer or an expiry notice, never both.
type CacheQueryResult struct {
	Result  *model.QueryResult
	Expired *model.ExpiredNotice
}

type CacheService struct {
	provider ai.IProvider
	storage  CacheStorage
	resolver SourceResolver
	opts     CacheServiceOptions
	now      func() time.Time
}

func NewCacheService(provider ai.IProvider, storage CacheStorage, resolver SourceResolver, opts CacheServiceOptions) *CacheService {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultCacheTTL
	}
	return &CacheService{
		provider: provider,
		storage:  storage,
		resolver: resolver,
		opts:     opts,
		now:      time.Now,
	}
}

func (s *CacheService) Load(ctx context.Context, req LoadRequest) (*model.CacheRecord, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("alias", req.Alias))
	if err := validateLoad(req); err != nil {
		return nil, err
	}
	if existing, err := s.storage.GetByAlias(ctx, req.Alias); err == nil {
		s.deleteProviderCache(ctx, existing)
		if err := s.storage.DeleteByAlias(ctx, req.Alias); err != nil && !appErr.IsNotFound(err) {
			return nil, err
		}
		s.dropIndex(ctx, req.Alias)
		logger.Info("superseded existing cache", zap.String("name", existing.Name))
	} else if !appErr.IsNotFound(err) {
		return nil, err
	}

	loaded, err := s.resolveSources(ctx, req.Sources)
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}
	info, err := s.provider.CreateCache(ctx, loaded.Content, ai.CreateCacheOptions{
		TTL:               ttl,
		SystemInstruction: req.SystemInstruction,
		Model:             req.Model,
		DisplayName:       req.Alias,
	})
	if err != nil {
		logger.Error("create provider cache failed", zap.Error(err))
		return nil, err
	}
	now := s.now()
	rec := &model.CacheRecord{
		Name:              info.Handle.Name,
		Alias:             req.Alias,
		Provider:          info.Handle.Provider,
		Model:             info.Model,
		Source:            strings.Join(req.Sources, model.SourceSeparator),
		SystemInstruction: req.SystemInstruction,
		TokenCount:        info.TokenCount,
		TTLSeconds:        int64(ttl / time.Second),
		CreatedAt:         now,
		ExpiresAt:         info.ExpiresAt,
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(ttl)
	}
	if err := s.storage.Save(ctx, rec); err != nil {
		return nil, err
	}
	logger.Info("cache loaded",
		zap.String("name", rec.Name),
		zap.String("provider", rec.Provider),
		zap.Int("tokens", rec.TokenCount),
		zap.Int("files", len(loaded.Files)),
	)
	s.index(ctx, req.Alias, loaded.Files)
	s.logUsage(ctx, &model.UsageRecord{Alias: req.Alias, Operation: "load", Model: rec.Model, Tokens: rec.TokenCount})
	return rec, nil
}

func (s *CacheService) Get(ctx context.Context, alias string) (*model.CacheRecord, error) {
	return s.storage.GetByAlias(ctx, alias)
}

// Query answers from the alias's provider cache. An expired record yields a notice and stays in storage.
func (s *CacheService) Query(ctx context.Context, alias string, req CacheQueryRequest) (*CacheQueryResult, error) {
	rec, err := s.storage.GetByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	return s.queryRecord(ctx, rec, req)
}

func (s *CacheService) queryRecord(ctx context.Context, rec *model.CacheRecord, req CacheQueryRequest) (*CacheQueryResult, error) {
	if rec.IsExpired(s.now()) {
		return &CacheQueryResult{Expired: expiredNotice(rec)}, nil
	}
	res, err := s.provider.QueryCache(ctx, rec.Handle(), req.Query, ai.QueryOptions{
		Instruction:     req.Instruction,
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
		StopSequences:   req.StopSequences,
		Model:           rec.Model,
	})
	if err != nil {
		return nil, err
	}
	return &CacheQueryResult{Result: res}, nil
}

func (s *CacheService) List(ctx context.Context) ([]model.CacheRecordStatus, error) {
	recs, err := s.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.CacheRecordStatus, 0, len(recs))
	for _, rec := range recs {
		status := model.CacheRecordStatus{CacheRecord: *rec, Expired: rec.IsExpired(now)}
		if !status.Expired && !rec.ExpiresAt.IsZero() {
			status.RemainingSeconds = int64(rec.ExpiresAt.Sub(now) / time.Second)
		}
		out = append(out, status)
	}
	return out, nil
}

func (s *CacheService) Evict(ctx context.Context, alias string) error {
	rec, err := s.storage.GetByAlias(ctx, alias)
	if err != nil {
		return err
	}
	s.deleteProviderCache(ctx, rec)
	if err := s.storage.DeleteByAlias(ctx, alias); err != nil {
		return err
	}
	s.dropIndex(ctx, alias)
	logutil.GetLogger(ctx).Info("cache evicted", zap.String("alias", alias), zap.String("name", rec.Name))
	return nil
}

// Refresh reloads the stored sources under the same alias, keeping the prior TTL unless overridden.
func (s *CacheService) Refresh(ctx context.Context, alias string, req RefreshRequest) (*model.CacheRecord, error) {
	rec, err := s.storage.GetByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = rec.TTL()
	}
	return s.Load(ctx, LoadRequest{
		Alias:             alias,
		Sources:           strings.Split(rec.Source, model.SourceSeparator),
		TTL:               ttl,
		SystemInstruction: rec.SystemInstruction,
	})
}

func (s *CacheService) resolveSources(ctx context.Context, sources []string) (*model.LoadedSource, error) {
	if len(sources) == 1 {
		return s.resolver.Resolve(ctx, sources[0])
	}
	combined := &model.LoadedSource{
		Source:   strings.Join(sources, model.SourceSeparator),
		Metadata: map[string]string{"sources": fmt.Sprintf("%d", len(sources))},
	}
	var sb strings.Builder
	labels := make(map[string]bool, len(sources))
	for i, desc := range sources {
		src, err := s.resolver.Resolve(ctx, desc)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("##### Source: ")
		sb.WriteString(desc)
		sb.WriteString(" #####\n\n")
		sb.WriteString(src.Content)
		combined.TokenCount += src.TokenCount
		label := sourceLabel(desc)
		if labels[label] {
			label = fmt.Sprintf("%s#%d", label, i+1)
		}
		labels[label] = true
		for _, f := range src.Files {
			if f.Path != label {
				f.Path = label + "/" + f.Path
			}
			combined.Files = append(combined.Files, f)
		}
	}
	combined.Content = sb.String()
	return combined, nil
}

func (s *CacheService) deleteProviderCache(ctx context.Context, rec *model.CacheRecord) {
	if err := s.provider.DeleteCache(ctx, rec.Handle()); err != nil {
		logutil.GetLogger(ctx).Warn("delete provider cache failed, ignored",
			zap.String("alias", rec.Alias),
			zap.String("name", rec.Name),
			zap.Error(err),
		)
	}
}

func (s *CacheService) dropIndex(ctx context.Context, alias string) {
	if s.opts.Indexer == nil {
		return
	}
	if err := s.opts.Indexer.Drop(ctx, alias); err != nil {
		logutil.GetLogger(ctx).Warn("drop retrieval index failed", zap.String("alias", alias), zap.Error(err))
	}
}

func (s *CacheService) index(ctx context.Context, alias string, files []model.SourceFile) {
	if s.opts.Indexer == nil {
		return
	}
	chunks := chunker.ChunkLoadedSource(ctx, files, alias, s.opts.Chunker)
	if err := s.opts.Indexer.Index(ctx, alias, chunks); err != nil {
		logutil.GetLogger(ctx).Warn("build retrieval index failed", zap.String("alias", alias), zap.Error(err))
	}
}

func (s *CacheService) logUsage(ctx context.Context, rec *model.UsageRecord) {
	if s.opts.Usage == nil {
		return
	}
	rec.Ctime = s.now().Unix()
	if err := s.opts.Usage.Log(ctx, rec); err != nil {
		logutil.GetLogger(ctx).Warn("log usage failed", zap.String("alias", rec.Alias), zap.Error(err))
	}
}

// sourceLabel names a composite member by the last element of its descriptor.
func sourceLabel(desc string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(desc), "/\\")
	if i := strings.LastIndexAny(trimmed, "/\\"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	if trimmed == "" {
		return desc
	}
	return trimmed
}

func validateLoad(req LoadRequest) error {
	if !aliasRegex.MatchString(req.Alias) {
		return fmt.Errorf("alias %q must be 1-64 chars of letters, digits, '.', '_' or '-': %w", req.Alias, appErr.ErrInvalid)
	}
	if len(req.Sources) == 0 {
		return fmt.Errorf("at least one source is required: %w", appErr.ErrInvalid)
	}
	for _, src := range req.Sources {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("empty source: %w", appErr.ErrInvalid)
		}
		if strings.Contains(src, model.SourceSeparator) {
			return fmt.Errorf("source %q contains reserved separator %q: %w", src, model.SourceSeparator, appErr.ErrInvalid)
		}
	}
	return nil
}

func expiredNotice(rec *model.CacheRecord) *model.ExpiredNotice {
	return &model.ExpiredNotice{
		Alias:     rec.Alias,
		Source:    rec.Source,
		ExpiredAt: rec.ExpiresAt,
		Recovery:  recoveryCall,
		Message:   fmt.Sprintf("cache %q expired at %s; call refresh for alias %q to reload it", rec.Alias, rec.ExpiresAt.Format(time.RFC3339), rec.Alias),
	}
}
