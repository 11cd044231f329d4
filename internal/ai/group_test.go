package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ctxcache/internal/model"
)

func TestGroupGeneratorFirstSuccessWins(t *testing.T) {
	broken := &fakeProvider{name: "local", queryErr: errors.New("down")}
	healthy := &fakeProvider{name: "gemini", modelName: "flash"}
	gen := NewGroupGenerator([]GeneratorEntry{
		{Name: "local", Generator: NewGenerator(broken, "", "")},
		{Name: "gemini", Generator: NewGenerator(healthy, "flash", "")},
	})

	res, err := gen.Generate(context.Background(), "chunks", "question")
	require.NoError(t, err)
	require.Equal(t, "gemini:question", res.Response)
	require.Equal(t, 1, broken.queries)
}

func TestGroupGeneratorAllFail(t *testing.T) {
	gen := NewGroupGenerator([]GeneratorEntry{
		{Name: "a", Generator: NewGenerator(&fakeProvider{name: "a", queryErr: errors.New("first")}, "", "")},
		{Name: "b", Generator: NewGenerator(&fakeProvider{name: "b", queryErr: errors.New("last")}, "", "")},
	})
	_, err := gen.Generate(context.Background(), "", "q")
	require.EqualError(t, err, "last")

	require.Nil(t, NewGroupGenerator(nil))
}

func TestGroupGeneratorStopsWhenCallerGaveUp(t *testing.T) {
	first := &fakeProvider{name: "local", queryErr: errors.New("down")}
	second := &fakeProvider{name: "gemini"}
	gen := NewGroupGenerator([]GeneratorEntry{
		{Name: "local", Generator: NewGenerator(first, "", "")},
		{Name: "gemini", Generator: NewGenerator(second, "", "")},
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := gen.Generate(ctx, "", "q")
	require.ErrorIs(t, err, ErrTimeout)
	require.Zero(t, first.queries)
	require.Zero(t, second.queries)
}

type anonymousGenerator struct{}

func (anonymousGenerator) Generate(ctx context.Context, contextText string, prompt string) (*model.QueryResult, error) {
	return &model.QueryResult{Response: "ok"}, nil
}

func TestGroupGeneratorTagsServingEntry(t *testing.T) {
	gen := NewGroupGenerator([]GeneratorEntry{{Name: "synth-local", Generator: anonymousGenerator{}}})
	res, err := gen.Generate(context.Background(), "", "q")
	require.NoError(t, err)
	require.Equal(t, "synth-local", res.Provider)

	_, err = NewGroupGenerator([]GeneratorEntry{{Name: "empty"}}).Generate(context.Background(), "", "q")
	require.ErrorIs(t, err, ErrUnavailable)
}
