package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/chunker"
	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

// Loader turns one source descriptor into a LoadedSource.
type Loader interface {
	Name() string
	Supports(descriptor string) bool
	Load(ctx context.Context, descriptor string) (*model.LoadedSource, error)
}

type Resolver struct {
	loaders []Loader
}

func NewResolver(loaders ...Loader) *Resolver {
	return &Resolver{loaders: loaders}
}

// Resolve picks the first loader that accepts the descriptor.
func (r *Resolver) Resolve(ctx context.Context, descriptor string) (*model.LoadedSource, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, fmt.Errorf("empty source: %w", appErr.ErrInvalid)
	}
	for _, l := range r.loaders {
		if !l.Supports(descriptor) {
			continue
		}
		src, err := l.Load(ctx, descriptor)
		if err != nil {
			return nil, fmt.Errorf("%s loader: %w", l.Name(), err)
		}
		logutil.GetLogger(ctx).Debug("source loaded",
			zap.String("loader", l.Name()),
			zap.String("source", descriptor),
			zap.Int("files", len(src.Files)),
			zap.Int("tokens", src.TokenCount),
		)
		return src, nil
	}
	return nil, fmt.Errorf("no loader accepts source %q: %w", descriptor, appErr.ErrInvalid)
}

func newLoadedSource(descriptor string, files []model.SourceFile, meta map[string]string) *model.LoadedSource {
	src := &model.LoadedSource{Source: descriptor, Files: files, Metadata: meta}
	var sb strings.Builder
	for i, f := range files {
		if len(files) > 1 {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("=== File: ")
			sb.WriteString(f.Path)
			sb.WriteString(" ===\n")
		}
		sb.WriteString(f.Content)
		src.TokenCount += f.TokenCount
	}
	src.Content = sb.String()
	return src
}

func newSourceFile(path string, content string) model.SourceFile {
	return model.SourceFile{Path: path, Content: content, TokenCount: chunker.EstimateTokens(content)}
}
