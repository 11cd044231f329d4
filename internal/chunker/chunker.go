package chunker

import (
	"context"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ctxcache/internal/model"
	"github.com/xxxsen/ctxcache/internal/pkg/idutil"
)

// span is an inclusive, 0-indexed line range.
type span struct {
	start int
	end   int
}

type fileLines struct {
	lines  []string
	prefix []int // prefix[i] = rune count of lines[:i]
}

func newFileLines(content string) *fileLines {
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	prefix := make([]int, len(lines)+1)
	for i, line := range lines {
		prefix[i+1] = prefix[i] + len([]rune(line))
	}
	return &fileLines{lines: lines, prefix: prefix}
}

// tokens estimates the joined text of lines[start..end] without building it.
func (f *fileLines) tokens(start, end int) int {
	chars := f.prefix[end+1] - f.prefix[start] + (end - start)
	return tokensForChars(chars)
}

func (f *fileLines) text(s span) string {
	return strings.Join(f.lines[s.start:s.end+1], "\n")
}

// ChunkFile splits one file into ordered chunks that together cover every line.
func ChunkFile(ctx context.Context, path, content, alias string, opts Options) []model.CodeChunk {
	opts = opts.normalize()
	logger := logutil.GetLogger(ctx).With(zap.String("path", path), zap.String("alias", alias))
	kind := detectKind(path)
	file := newFileLines(content)

	var bounds []Boundary
	scanner := scannerFor(kind)
	if scanner != nil {
		found, err := scanner.FindBoundaries(file.lines)
		if err != nil {
			logger.Debug("boundary scan failed, using fixed windows", zap.String("file_type", kind.fileType), zap.Error(err))
		} else {
			bounds = found
		}
	}

	var spans []span
	totalTokens := EstimateTokens(content)
	switch {
	case isWholeFile(path, opts.WholeFilePatterns):
		logger.Debug("whole file pattern matched", zap.Int("tokens", totalTokens))
		return []model.CodeChunk{buildWholeChunk(path, content, alias, kind, file, bounds)}
	case totalTokens <= opts.MaxTokens:
		return []model.CodeChunk{buildWholeChunk(path, content, alias, kind, file, bounds)}
	case len(bounds) == 0:
		spans = fixedWindows(file, span{start: 0, end: len(file.lines) - 1}, opts)
	default:
		spans = packSegments(file, segmentsFrom(bounds, len(file.lines)), opts)
	}

	exportsAt := exportIndex(bounds)
	chunks := make([]model.CodeChunk, 0, len(spans))
	for i, s := range spans {
		chunkContent := file.text(s)
		chunks = append(chunks, model.CodeChunk{
			ID:         idutil.NewID(),
			Alias:      alias,
			FilePath:   path,
			FileType:   kind.fileType,
			ChunkIndex: i,
			Content:    chunkContent,
			StartLine:  s.start + 1,
			EndLine:    s.end + 1,
			TokenCount: EstimateTokens(chunkContent),
			Exports:    exportsIn(exportsAt, s),
		})
	}
	logger.Debug("file chunked",
		zap.String("file_type", kind.fileType),
		zap.Int("boundaries", len(bounds)),
		zap.Int("chunks", len(chunks)),
		zap.Int("tokens", totalTokens),
	)
	return chunks
}

// ChunkLoadedSource chunks every file of a loaded source in order.
func ChunkLoadedSource(ctx context.Context, files []model.SourceFile, alias string, opts Options) []model.CodeChunk {
	var chunks []model.CodeChunk
	for _, file := range files {
		chunks = append(chunks, ChunkFile(ctx, file.Path, file.Content, alias, opts)...)
	}
	logutil.GetLogger(ctx).Info("source chunked",
		zap.String("alias", alias),
		zap.Int("files", len(files)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks
}

func buildWholeChunk(path, content, alias string, kind fileKind, file *fileLines, bounds []Boundary) model.CodeChunk {
	whole := span{start: 0, end: len(file.lines) - 1}
	return model.CodeChunk{
		ID:         idutil.NewID(),
		Alias:      alias,
		FilePath:   path,
		FileType:   kind.fileType,
		ChunkIndex: 0,
		Content:    content,
		StartLine:  1,
		EndLine:    len(file.lines),
		TokenCount: EstimateTokens(content),
		Exports:    exportsIn(exportIndex(bounds), whole),
	}
}

// segmentsFrom turns boundary starts into a gap-free partition of the file.
func segmentsFrom(bounds []Boundary, lineCount int) []span {
	starts := make([]int, 0, len(bounds)+1)
	for _, b := range bounds {
		if b.StartLine >= 0 && b.StartLine < lineCount {
			starts = append(starts, b.StartLine)
		}
	}
	starts = append(starts, 0)
	sort.Ints(starts)

	segments := make([]span, 0, len(starts))
	for i, start := range starts {
		if i > 0 && start == starts[i-1] {
			continue
		}
		segments = append(segments, span{start: start})
	}
	for i := range segments {
		if i+1 < len(segments) {
			segments[i].end = segments[i+1].start - 1
		} else {
			segments[i].end = lineCount - 1
		}
	}
	return segments
}

// packSegments greedily merges consecutive segments up to the max size and splits
// any single segment that is too large on its own.
func packSegments(file *fileLines, segments []span, opts Options) []span {
	var (
		out     []span
		current *span
	)
	flush := func() {
		if current != nil {
			out = append(out, *current)
			current = nil
		}
	}
	for _, seg := range segments {
		if file.tokens(seg.start, seg.end) > opts.MaxTokens {
			flush()
			out = append(out, fixedWindows(file, seg, opts)...)
			continue
		}
		if current != nil && file.tokens(current.start, seg.end) > opts.MaxTokens {
			flush()
		}
		if current == nil {
			s := seg
			current = &s
			continue
		}
		current.end = seg.end
	}
	flush()
	return out
}

// fixedWindows covers region with windows of about TargetTokens, each starting
// OverlapTokens before the previous one ended. A window only exceeds the cap when
// a single line does.
func fixedWindows(file *fileLines, region span, opts Options) []span {
	var out []span
	start := region.start
	for {
		end := start
		for end < region.end && file.tokens(start, end+1) <= opts.TargetTokens {
			end++
		}
		out = append(out, span{start: start, end: end})
		if end >= region.end {
			return out
		}
		next := end + 1
		for next-1 > start && file.tokens(next-1, end) <= opts.OverlapTokens {
			next--
		}
		if next <= end && file.tokens(next, end+1) > opts.TargetTokens {
			next = end + 1
		}
		start = next
	}
}

func exportIndex(bounds []Boundary) map[int][]string {
	index := make(map[int][]string)
	for _, b := range bounds {
		if b.Exported && b.Name != "" {
			index[b.StartLine] = append(index[b.StartLine], b.Name)
		}
	}
	return index
}

func exportsIn(index map[int][]string, s span) []string {
	if len(index) == 0 {
		return nil
	}
	lines := make([]int, 0, len(index))
	for line := range index {
		if line >= s.start && line <= s.end {
			lines = append(lines, line)
		}
	}
	sort.Ints(lines)
	var names []string
	seen := make(map[string]bool)
	for _, line := range lines {
		for _, name := range index[line] {
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
