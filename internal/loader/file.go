package loader

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xxxsen/ctxcache/internal/model"
	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

const (
	defaultMaxFileBytes = 1 << 20
	defaultMaxFiles     = 5000
	binarySniffBytes    = 8000
)

var defaultSkipDirs = []string{".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build", "target", "__pycache__", ".venv", ".idea"}

type FileOptions struct {
	MaxFileBytes int64    `json:"max_file_bytes"`
	MaxFiles     int      `json:"max_files"`
	ExcludeGlobs []string `json:"exclude_globs"`
}

func (o FileOptions) normalize() FileOptions {
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = defaultMaxFileBytes
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = defaultMaxFiles
	}
	return o
}

// FileLoader reads a single local file.
type FileLoader struct {
	opts FileOptions
}

func NewFileLoader(opts FileOptions) *FileLoader {
	return &FileLoader{opts: opts.normalize()}
}

func (l *FileLoader) Name() string {
	return "file"
}

func (l *FileLoader) Supports(descriptor string) bool {
	info, err := os.Stat(descriptor)
	return err == nil && info.Mode().IsRegular()
}

func (l *FileLoader) Load(ctx context.Context, descriptor string) (*model.LoadedSource, error) {
	_ = ctx
	content, ok, err := readText(descriptor, l.opts.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is binary or too large: %w", descriptor, appErr.ErrInvalid)
	}
	file := newSourceFile(filepath.Base(descriptor), content)
	return newLoadedSource(descriptor, []model.SourceFile{file}, map[string]string{"type": "file"}), nil
}

// DirLoader walks a directory tree, skipping VCS/dependency folders, binaries and oversized files.
type DirLoader struct {
	opts FileOptions
}

func NewDirLoader(opts FileOptions) *DirLoader {
	return &DirLoader{opts: opts.normalize()}
}

func (l *DirLoader) Name() string {
	return "directory"
}

func (l *DirLoader) Supports(descriptor string) bool {
	info, err := os.Stat(descriptor)
	return err == nil && info.IsDir()
}

func (l *DirLoader) Load(ctx context.Context, descriptor string) (*model.LoadedSource, error) {
	root := filepath.Clean(descriptor)
	var paths []string
	skipped := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			if path != root && (isSkippedDir(d.Name()) || matchesAny(rel, l.opts.ExcludeGlobs)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matchesAny(rel, l.opts.ExcludeGlobs) {
			return nil
		}
		if len(paths) >= l.opts.MaxFiles {
			skipped++
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	files := make([]model.SourceFile, 0, len(paths))
	for _, path := range paths {
		content, ok, err := readText(path, l.opts.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped++
			continue
		}
		rel, _ := filepath.Rel(root, path)
		files = append(files, newSourceFile(filepath.ToSlash(rel), content))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no readable files under %s: %w", root, appErr.ErrInvalid)
	}
	meta := map[string]string{
		"type":    "directory",
		"files":   strconv.Itoa(len(files)),
		"skipped": strconv.Itoa(skipped),
	}
	return newLoadedSource(descriptor, files, meta), nil
}

// readText returns ok=false for files that look binary or exceed maxBytes.
func readText(path string, maxBytes int64) (string, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false, err
	}
	if info.Size() > maxBytes {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	sniff := data
	if len(sniff) > binarySniffBytes {
		sniff = sniff[:binarySniffBytes]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return "", false, nil
	}
	return string(data), true, nil
}

func isSkippedDir(name string) bool {
	for _, s := range defaultSkipDirs {
		if name == s {
			return true
		}
	}
	return false
}

func matchesAny(rel string, globs []string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}
