package chunker

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	DefaultTargetTokens  = 400
	DefaultOverlapTokens = 50
	DefaultMaxTokens     = 600

	charsPerToken = 4
)

var DefaultWholeFilePatterns = []string{
	"README*",
	"LICENSE*",
	"CHANGELOG*",
	"package.json",
	"tsconfig.json",
	"go.mod",
	"Cargo.toml",
	"pyproject.toml",
}

type Options struct {
	TargetTokens      int      `json:"target_tokens"`
	OverlapTokens     int      `json:"overlap_tokens"`
	MaxTokens         int      `json:"max_tokens"`
	WholeFilePatterns []string `json:"whole_file_patterns"`
}

func DefaultOptions() Options {
	return Options{
		TargetTokens:      DefaultTargetTokens,
		OverlapTokens:     DefaultOverlapTokens,
		MaxTokens:         DefaultMaxTokens,
		WholeFilePatterns: DefaultWholeFilePatterns,
	}
}

func (o Options) normalize() Options {
	if o.TargetTokens <= 0 {
		o.TargetTokens = DefaultTargetTokens
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxTokens < o.TargetTokens {
		o.MaxTokens = o.TargetTokens
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.TargetTokens {
		o.OverlapTokens = o.TargetTokens / 8
	}
	if o.WholeFilePatterns == nil {
		o.WholeFilePatterns = DefaultWholeFilePatterns
	}
	return o
}

// EstimateTokens is the chunker's own heuristic: one token per four characters, rounded up.
func EstimateTokens(text string) int {
	return tokensForChars(utf8.RuneCountInString(text))
}

func tokensForChars(chars int) int {
	return (chars + charsPerToken - 1) / charsPerToken
}

func isWholeFile(path string, patterns []string) bool {
	base := filepath.Base(filepath.ToSlash(path))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if strings.EqualFold(pattern, base) {
			return true
		}
	}
	return false
}
