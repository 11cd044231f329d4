package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/model"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

// groupGenerator walks an ordered synthesis chain until one entry answers.
type groupGenerator struct {
	items []GeneratorEntry
}

func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	return &groupGenerator{items: items}
}

func (g *groupGenerator) Generate(ctx context.Context, contextText string, prompt string) (*model.QueryResult, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Generator == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			// the caller gave up; later entries would fail the same way
			return nil, wrapCallError(item.Name, err)
		}
		res, err := item.Generator.Generate(ctx, contextText, prompt)
		if err == nil {
			if res.Provider == "" {
				res.Provider = item.Name
			}
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("synthesis entry failed",
			zap.Int("index", i),
			zap.String("name", item.Name),
			zap.Bool("timeout", IsTimeout(err)),
			zap.Bool("capacity", IsCapacity(err)),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("synthesis chain not configured: %w", ErrUnavailable)
	}
	return nil, lastErr
}
