package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	braceDeclPattern = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:declare\s+)?(?:` +
		`(?:async\s+)?function\b|` +
		`(?:abstract\s+)?class\b|` +
		`interface\b|` +
		`(?:type|enum)\b|` +
		`(?:const|let|var)\s+[\w$]+\s*(?::[^=]+)?=\s*(?:async\s*)?(?:\(|function\b|[\w$]+\s*=>)|` +
		`func\b)`)
	rustDeclPattern = regexp.MustCompile(`^(?:pub(?:\([\w:]+\))?\s+)?(?:async\s+)?(?:unsafe\s+)?(?:fn|struct|enum|trait|impl|mod|type)\b`)
	jvmDeclPattern  = regexp.MustCompile(`^(?:(?:public|private|protected|internal|static|final|abstract|sealed|partial|open|data|inline|override)\s+)*(?:class|interface|enum|record|struct|object|fun|namespace)\b`)
	braceImportLine = regexp.MustCompile(`^(?:import\b|package\b|using\s|use\s|#include\b|from\s+\S+\s+import\b|(?:const|let|var)\s+[\w${},\s]+=\s*require\()`)
	goFuncName      = regexp.MustCompile(`^func\s*(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`)
	declName        = regexp.MustCompile(`\b(?:function\*?|class|interface|type|enum|struct|trait|impl|mod|fn|const|let|var|record|object|fun|namespace)\s+([A-Za-z_$][\w$]*)`)
)

// braceScanner tracks brace depth and records declarations that open at depth zero.
type braceScanner struct {
	lang string
}

type braceState struct {
	depth        int
	inBlock      bool
	inRawString  bool
	rawDelimiter byte
}

func (s *braceScanner) FindBoundaries(lines []string) ([]Boundary, error) {
	var (
		bounds      []Boundary
		state       braceState
		importBlock bool
	)
	for i, line := range lines {
		atTop := state.depth == 0 && !state.inBlock && !state.inRawString
		trimmed := strings.TrimSpace(line)
		if atTop && trimmed != "" {
			switch {
			case braceImportLine.MatchString(trimmed):
				if !importBlock {
					bounds = append(bounds, Boundary{StartLine: i, Kind: "import", Name: "imports"})
					importBlock = true
				}
			case s.isDeclaration(trimmed):
				importBlock = false
				name := s.declarationName(trimmed)
				bounds = append(bounds, Boundary{
					StartLine: leadingDocStart(lines, i, lastStart(bounds)),
					Kind:      declarationKind(trimmed),
					Name:      name,
					Exported:  s.isExported(trimmed, name),
				})
			case !isCommentLine(trimmed) && trimmed != ")" && !strings.HasPrefix(trimmed, "\""):
				importBlock = false
			}
		}
		if err := state.consume(line); err != nil {
			return nil, err
		}
	}
	if state.depth != 0 || state.inBlock || state.inRawString {
		return nil, errMalformed
	}
	return bounds, nil
}

func (s *braceScanner) isDeclaration(line string) bool {
	switch s.lang {
	case "rust":
		return rustDeclPattern.MatchString(line)
	case "java", "kotlin", "csharp", "scala", "dart", "swift":
		return jvmDeclPattern.MatchString(line) || braceDeclPattern.MatchString(line)
	default:
		return braceDeclPattern.MatchString(line)
	}
}

func (s *braceScanner) declarationName(line string) string {
	if s.lang == "go" {
		if m := goFuncName.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	if m := declName.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

func (s *braceScanner) isExported(line, name string) bool {
	if name == "" {
		return false
	}
	switch s.lang {
	case "go":
		r := []rune(name)
		return unicode.IsUpper(r[0])
	case "rust":
		return strings.HasPrefix(line, "pub")
	case "java", "csharp", "kotlin", "scala", "dart", "swift":
		return strings.Contains(line, "public ") || !strings.Contains(line, "private ")
	default:
		return strings.HasPrefix(line, "export")
	}
}

func declarationKind(line string) string {
	for _, kind := range []string{"interface", "class", "struct", "enum", "trait", "impl", "type"} {
		if strings.Contains(" "+line+" ", " "+kind+" ") {
			return kind
		}
	}
	return "function"
}

// consume advances the depth counter over one line, skipping strings and comments.
func (st *braceState) consume(line string) error {
	inString := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if st.inBlock {
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				st.inBlock = false
				i++
			}
			continue
		}
		if st.inRawString {
			if c == st.rawDelimiter {
				st.inRawString = false
			}
			continue
		}
		if inString != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inString {
				inString = 0
			}
			continue
		}
		switch c {
		case '/':
			if i+1 < len(line) {
				if line[i+1] == '/' {
					return st.check()
				}
				if line[i+1] == '*' {
					st.inBlock = true
					i++
				}
			}
		case '"':
			inString = c
		case '`':
			st.inRawString = true
			st.rawDelimiter = c
		case '\'':
			// a quote only opens a char literal when it closes right away; rust lifetimes do not
			if end := strings.IndexByte(line[i+1:min(len(line), i+4)], '\''); end >= 0 {
				i += end + 1
			}
		case '{':
			st.depth++
		case '}':
			st.depth--
			if st.depth < 0 {
				return errMalformed
			}
		}
	}
	if inString != 0 {
		// unterminated string literals do not carry over lines in brace languages
		return errMalformed
	}
	return st.check()
}

func (st *braceState) check() error {
	if st.depth < 0 {
		return errMalformed
	}
	return nil
}

func isCommentLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "#[") ||
		strings.HasPrefix(trimmed, "@")
}

// leadingDocStart moves a declaration start up over the doc comments and annotations attached to it.
func leadingDocStart(lines []string, start, floor int) int {
	i := start
	for i-1 > floor {
		prev := strings.TrimSpace(lines[i-1])
		if prev == "" || !isCommentLine(prev) {
			break
		}
		i--
	}
	return i
}

func lastStart(bounds []Boundary) int {
	if len(bounds) == 0 {
		return -1
	}
	return bounds[len(bounds)-1].StartLine
}
