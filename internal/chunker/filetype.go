package chunker

import (
	"path/filepath"
	"strings"
)

type family int

const (
	familyNone family = iota
	familyBrace
	familyIndent
	familyHeading
)

type fileKind struct {
	fileType string
	family   family
}

var extensionKinds = map[string]fileKind{
	".go":       {"go", familyBrace},
	".js":       {"javascript", familyBrace},
	".jsx":      {"javascript", familyBrace},
	".mjs":      {"javascript", familyBrace},
	".cjs":      {"javascript", familyBrace},
	".ts":       {"typescript", familyBrace},
	".tsx":      {"typescript", familyBrace},
	".java":     {"java", familyBrace},
	".kt":       {"kotlin", familyBrace},
	".scala":    {"scala", familyBrace},
	".c":        {"c", familyBrace},
	".h":        {"c", familyBrace},
	".cc":       {"cpp", familyBrace},
	".cpp":      {"cpp", familyBrace},
	".hpp":      {"cpp", familyBrace},
	".cs":       {"csharp", familyBrace},
	".rs":       {"rust", familyBrace},
	".swift":    {"swift", familyBrace},
	".php":      {"php", familyBrace},
	".dart":     {"dart", familyBrace},
	".py":       {"python", familyIndent},
	".pyi":      {"python", familyIndent},
	".md":       {"markdown", familyHeading},
	".markdown": {"markdown", familyHeading},
	".mdx":      {"markdown", familyHeading},
	".json":     {"json", familyNone},
	".yaml":     {"yaml", familyNone},
	".yml":      {"yaml", familyNone},
	".toml":     {"toml", familyNone},
	".sql":      {"sql", familyNone},
	".sh":       {"shell", familyNone},
	".html":     {"html", familyNone},
	".css":      {"css", familyNone},
	".txt":      {"text", familyNone},
}

func detectKind(path string) fileKind {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := extensionKinds[ext]; ok {
		return kind
	}
	if ext == "" {
		return fileKind{fileType: "text", family: familyNone}
	}
	return fileKind{fileType: strings.TrimPrefix(ext, "."), family: familyNone}
}

// DetectFileType returns the language tag stored on every chunk of path.
func DetectFileType(path string) string {
	return detectKind(path).fileType
}
