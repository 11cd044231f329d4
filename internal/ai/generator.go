package ai

import (
	"context"

	"github.com/xxxsen/ctxcache/internal/model"
)

// IGenerator answers a prompt grounded on inline context text.
type IGenerator interface {
	Generate(ctx context.Context, contextText string, prompt string) (*model.QueryResult, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type generator struct {
	provider IProvider
	opts     QueryOptions
}

func NewGenerator(p IProvider, modelName string, instruction string) IGenerator {
	return &generator{provider: p, opts: QueryOptions{Model: modelName, Instruction: instruction}}
}

func (g *generator) Generate(ctx context.Context, contextText string, prompt string) (*model.QueryResult, error) {
	return g.provider.Query(ctx, contextText, prompt, g.opts)
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, modelName string) IEmbedder {
	return &embedder{provider: p, model: modelName}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}
