package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
	"github.com/xxxsen/ctxcache/internal/store"
)

func newOllamaServer(t *testing.T, seen *ollamaChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/chat":
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":" answer "},"prompt_eval_count":40,"eval_count":2}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLocal(t *testing.T, baseURL string, limit int) *localProvider {
	t.Helper()
	p, err := NewProvider("local", ProviderArgs{
		Config: map[string]interface{}{"dialect": "ollama", "base_url": baseURL, "model": "llama3", "context_limit": limit},
		Store:  store.NewMemoryStore(16, time.Hour),
	})
	require.NoError(t, err)
	return p.(*localProvider)
}

func TestLocalCreateAndQuery(t *testing.T) {
	var seen ollamaChatRequest
	srv := newOllamaServer(t, &seen)
	p := newTestLocal(t, srv.URL, 0)
	ctx := context.Background()

	require.True(t, p.IsAvailable(ctx))
	info, err := p.CreateCache(ctx, "package main\nfunc main() {}\n", CreateCacheOptions{SystemInstruction: "be brief", TTL: time.Minute})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(info.Handle.Name, localHandlePrefix))
	require.Equal(t, "local", info.Handle.Provider)
	require.Equal(t, "llama3", info.Model)

	res, err := p.QueryCache(ctx, info.Handle, "what is here?", QueryOptions{MaxOutputTokens: 64})
	require.NoError(t, err)
	require.Equal(t, "answer", res.Response)
	require.Equal(t, 42, res.TokensUsed)
	require.Equal(t, 0, res.CachedTokens)
	require.False(t, res.Expandable)

	require.Len(t, seen.Messages, 2)
	require.Equal(t, "system", seen.Messages[0].Role)
	require.Contains(t, seen.Messages[0].Content, "be brief")
	require.Contains(t, seen.Messages[0].Content, "func main()")
	require.Equal(t, "what is here?", seen.Messages[1].Content)
	require.Equal(t, 64, seen.Options.NumPredict)

	require.NoError(t, p.DeleteCache(ctx, info.Handle))
	_, err = p.QueryCache(ctx, info.Handle, "again", QueryOptions{})
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestLocalCapacity(t *testing.T) {
	p := newTestLocal(t, "http://127.0.0.1:1", 100)
	// 90% of 100 tokens at 3.5 chars per token is 315 chars
	_, err := p.CreateCache(context.Background(), strings.Repeat("x", 315), CreateCacheOptions{})
	require.NoError(t, err)
	_, err = p.CreateCache(context.Background(), strings.Repeat("x", 320), CreateCacheOptions{})
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 90, capErr.Limit)
	require.Equal(t, 92, capErr.Tokens)
}

func TestLocalUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	p := newTestLocal(t, srv.URL, 0)
	require.False(t, p.IsAvailable(context.Background()))

	_, err := p.Query(context.Background(), "ctx", "q", QueryOptions{})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	require.Equal(t, http.StatusServiceUnavailable, upErr.Status)
	require.Contains(t, upErr.Body, "model not loaded")
}

func TestLocalTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	p := newTestLocal(t, srv.URL, 0)
	p.timeout = 50 * time.Millisecond
	_, err := p.Query(context.Background(), "", "q", QueryOptions{})
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, appErr.IsTimeout(err))
}

func TestEmbedProvidersTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	ollama := &ollamaEmbedProvider{client: http.DefaultClient, baseURL: srv.URL, timeout: 50 * time.Millisecond}
	openai := &openAIEmbedProvider{client: http.DefaultClient, apiKey: "k", baseURL: srv.URL, timeout: 50 * time.Millisecond}
	for _, p := range []IEmbedProvider{ollama, openai} {
		_, err := p.Embed(context.Background(), "m", "text", "")
		require.ErrorIs(t, err, ErrTimeout, p.Name())
	}

	p, err := NewEmbedProvider("ollama", ProviderArgs{Config: map[string]interface{}{"base_url": srv.URL}})
	require.NoError(t, err)
	require.Equal(t, defaultEmbedTimeout, p.(*ollamaEmbedProvider).timeout)
}

func TestLocalOpenAIDialect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/models":
			_, _ = w.Write([]byte(`{"data":[]}`))
		case "/v1/chat/completions":
			var req openAIChatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, []string{"END"}, req.Stop)
			_, _ = w.Write([]byte(`{"model":"qwen","choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":10,"completion_tokens":1,"total_tokens":11}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := NewProvider("local", ProviderArgs{
		Config: map[string]interface{}{"dialect": "openai", "base_url": srv.URL + "/v1", "api_key": "secret", "model": "qwen"},
		Store:  store.NewMemoryStore(4, time.Hour),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.True(t, p.IsAvailable(ctx))
	res, err := p.Query(ctx, "ctx", "q", QueryOptions{StopSequences: []string{"END"}})
	require.NoError(t, err)
	require.Equal(t, &model.QueryResult{Response: "ok", TokensUsed: 11, Model: "qwen", Provider: "local"}, res)
}

func TestLocalFactoryValidation(t *testing.T) {
	_, err := NewProvider("local", ProviderArgs{Config: map[string]interface{}{"model": "x"}})
	require.Error(t, err)
	_, err = NewProvider("local", ProviderArgs{Config: map[string]interface{}{}, Store: store.NewMemoryStore(1, 0)})
	require.Error(t, err)
	_, err = NewProvider("local", ProviderArgs{Config: map[string]interface{}{"model": "x", "dialect": "grpc"}, Store: store.NewMemoryStore(1, 0)})
	require.Error(t, err)
	_, err = NewProvider("nope", ProviderArgs{})
	require.Error(t, err)
}

func TestEstimatorsMonotonic(t *testing.T) {
	local := newLocalProvider(nil, nil, "m", 0, 0, 0)
	gemini := &geminiProvider{limit: defaultGeminiLimit}
	prevLocal, prevGemini := 0, 0
	for n := 0; n < 200; n++ {
		text := strings.Repeat("a", n)
		l, g := local.EstimateTokens(text), gemini.EstimateTokens(text)
		require.GreaterOrEqual(t, l, prevLocal)
		require.GreaterOrEqual(t, g, prevGemini)
		prevLocal, prevGemini = l, g
	}
	require.Equal(t, 2, local.EstimateTokens("1234567"))
	require.Equal(t, 2, gemini.EstimateTokens("12345"))
}

func TestGeminiWithoutKey(t *testing.T) {
	p, err := NewProvider("gemini", ProviderArgs{Config: map[string]interface{}{}})
	require.NoError(t, err)
	ctx := context.Background()
	require.False(t, p.IsAvailable(ctx))
	require.Equal(t, defaultGeminiModel, p.Model())
	require.Equal(t, defaultGeminiLimit, p.ContextLimit())
	_, err = p.CreateCache(ctx, "x", CreateCacheOptions{})
	require.ErrorIs(t, err, ErrUnavailable)
	require.True(t, p.(handleOwner).OwnsHandle("cachedContents/abc"))
	require.False(t, p.(handleOwner).OwnsHandle("local-abc"))
}
