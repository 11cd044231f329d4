package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/ctxcache/internal/ai"
	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
	"github.com/xxxsen/ctxcache/internal/retrieval"
)

type memStorage struct {
	mu      sync.Mutex
	records map[string]model.CacheRecord
}

func newMemStorage() *memStorage {
	return &memStorage{records: map[string]model.CacheRecord{}}
}

func (m *memStorage) Save(ctx context.Context, rec *model.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Alias] = *rec
	return nil
}

func (m *memStorage) GetByAlias(ctx context.Context, alias string) (*model.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[alias]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &rec, nil
}

func (m *memStorage) GetByName(ctx context.Context, name string) (*model.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.Name == name {
			r := rec
			return &r, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memStorage) List(ctx context.Context) ([]*model.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.CacheRecord, 0, len(m.records))
	for _, rec := range m.records {
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

func (m *memStorage) DeleteByAlias(ctx context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[alias]; !ok {
		return appErr.ErrNotFound
	}
	delete(m.records, alias)
	return nil
}

func (m *memStorage) Update(ctx context.Context, rec *model.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Alias]; !ok {
		return appErr.ErrNotFound
	}
	m.records[rec.Alias] = *rec
	return nil
}

type stubResolver struct {
	sources map[string]string
}

func (s *stubResolver) Resolve(ctx context.Context, descriptor string) (*model.LoadedSource, error) {
	content, ok := s.sources[descriptor]
	if !ok {
		return nil, fmt.Errorf("unknown source %s: %w", descriptor, appErr.ErrInvalid)
	}
	file := model.SourceFile{Path: descriptor[strings.LastIndex(descriptor, "/")+1:], Content: content, TokenCount: len(content) / 4}
	return &model.LoadedSource{Source: descriptor, Content: content, Files: []model.SourceFile{file}, TokenCount: file.TokenCount}, nil
}

type recordingProvider struct {
	mu         sync.Mutex
	expandable bool
	deleteErr  error
	seq        int
	created    []string
	deleted    []string
	queried    []model.CacheHandle
	contents   map[string]string
}

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{contents: map[string]string{}}
}

func (p *recordingProvider) Name() string                   { return "local" }
func (p *recordingProvider) Model() string                  { return "llama3" }
func (p *recordingProvider) ContextLimit() int              { return 32768 }
func (p *recordingProvider) EstimateTokens(text string) int { return len(text) / 4 }
func (p *recordingProvider) IsAvailable(ctx context.Context) bool {
	return true
}

func (p *recordingProvider) CreateCache(ctx context.Context, content string, opts ai.CreateCacheOptions) (*ai.CacheInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	name := fmt.Sprintf("local-%d", p.seq)
	p.created = append(p.created, name)
	p.contents[name] = content
	return &ai.CacheInfo{
		Handle:     model.CacheHandle{Provider: "local", Name: name},
		Model:      "llama3",
		TokenCount: len(content) / 4,
		ExpiresAt:  time.Now().Add(opts.TTL),
	}, nil
}

func (p *recordingProvider) QueryCache(ctx context.Context, handle model.CacheHandle, query string, opts ai.QueryOptions) (*model.QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queried = append(p.queried, handle)
	res := &model.QueryResult{Response: "full:" + query, TokensUsed: 500, CachedTokens: 400, Model: "llama3", Provider: "local"}
	if p.expandable {
		res.Model, res.Provider, res.Expandable = "gemini-2.0-flash", "gemini", true
	}
	return res, nil
}

func (p *recordingProvider) DeleteCache(ctx context.Context, handle model.CacheHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, handle.Name)
	return p.deleteErr
}

func (p *recordingProvider) Query(ctx context.Context, contextText string, query string, opts ai.QueryOptions) (*model.QueryResult, error) {
	return nil, errors.New("not used")
}

type stubRetriever struct {
	result    *retrieval.SearchResult
	err       error
	panicMsg  string
	available bool
	calls     int
	lastOpts  retrieval.SearchOptions
}

func (r *stubRetriever) Search(ctx context.Context, query string, opts retrieval.SearchOptions) (*retrieval.SearchResult, error) {
	r.calls++
	r.lastOpts = opts
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	return r.result, r.err
}

func (r *stubRetriever) IsAvailable(ctx context.Context) bool { return r.available }

type stubGenerator struct {
	err         error
	calls       int
	lastContext string
}

func (g *stubGenerator) Generate(ctx context.Context, contextText string, prompt string) (*model.QueryResult, error) {
	g.calls++
	g.lastContext = contextText
	if g.err != nil {
		return nil, g.err
	}
	return &model.QueryResult{Response: "rag answer", Model: "flash-lite"}, nil
}

type memUsage struct {
	records []model.UsageRecord
}

func (u *memUsage) Log(ctx context.Context, rec *model.UsageRecord) error {
	u.records = append(u.records, *rec)
	return nil
}

type recordingIndexer struct {
	indexed map[string]int
	paths   map[string][]string
	dropped []string
	err     error
}

func (x *recordingIndexer) Index(ctx context.Context, alias string, chunks []model.CodeChunk) error {
	if x.err != nil {
		return x.err
	}
	x.indexed[alias] = len(chunks)
	if x.paths == nil {
		x.paths = map[string][]string{}
	}
	x.paths[alias] = x.paths[alias][:0]
	for _, c := range chunks {
		x.paths[alias] = append(x.paths[alias], c.FilePath)
	}
	return nil
}

func (x *recordingIndexer) Drop(ctx context.Context, alias string) error {
	x.dropped = append(x.dropped, alias)
	delete(x.indexed, alias)
	delete(x.paths, alias)
	return nil
}
