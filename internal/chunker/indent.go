package chunker

import (
	"regexp"
	"strings"
)

var (
	pyDeclPattern   = regexp.MustCompile(`^(?:async\s+def|def|class)\s+([A-Za-z_]\w*)`)
	pyImportPattern = regexp.MustCompile(`^(?:import|from)\s+\S+`)
)

// indentScanner tracks indentation levels and records top-level def/class blocks.
type indentScanner struct{}

func (s *indentScanner) FindBoundaries(lines []string) ([]Boundary, error) {
	var (
		bounds        []Boundary
		levels        = []int{0}
		bracketDepth  int
		tripleQuote   string
		importBlock   bool
		decoratorFrom = -1
		seenStatement bool
	)
	for i, line := range lines {
		if tripleQuote != "" {
			if strings.Contains(line, tripleQuote) {
				tripleQuote = ""
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if bracketDepth == 0 {
			indent := indentWidth(line)
			if !seenStatement && indent > 0 {
				return nil, errMalformed
			}
			seenStatement = true
			top := levels[len(levels)-1]
			switch {
			case indent > top:
				levels = append(levels, indent)
			case indent < top:
				for len(levels) > 1 && levels[len(levels)-1] > indent {
					levels = levels[:len(levels)-1]
				}
				if levels[len(levels)-1] != indent {
					return nil, errMalformed
				}
			}
			if indent == 0 {
				switch {
				case strings.HasPrefix(trimmed, "@"):
					if decoratorFrom < 0 {
						decoratorFrom = i
					}
					importBlock = false
				case pyDeclPattern.MatchString(trimmed):
					name := pyDeclPattern.FindStringSubmatch(trimmed)[1]
					start := i
					if decoratorFrom >= 0 {
						start = decoratorFrom
					}
					kind := "function"
					if strings.HasPrefix(trimmed, "class") {
						kind = "class"
					}
					bounds = append(bounds, Boundary{
						StartLine: start,
						Kind:      kind,
						Name:      name,
						Exported:  !strings.HasPrefix(name, "_"),
					})
					decoratorFrom = -1
					importBlock = false
				case pyImportPattern.MatchString(trimmed):
					if !importBlock {
						bounds = append(bounds, Boundary{StartLine: i, Kind: "import", Name: "imports"})
						importBlock = true
					}
					decoratorFrom = -1
				default:
					decoratorFrom = -1
					importBlock = false
				}
			}
		}
		tripleQuote = openTripleQuote(trimmed)
		bracketDepth += bracketDelta(trimmed)
		if bracketDepth < 0 {
			return nil, errMalformed
		}
	}
	if bracketDepth != 0 || tripleQuote != "" {
		return nil, errMalformed
	}
	return bounds, nil
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}

// openTripleQuote reports the delimiter of a docstring left open at the end of the line.
func openTripleQuote(line string) string {
	for _, q := range []string{`"""`, `'''`} {
		if strings.Count(line, q)%2 == 1 {
			return q
		}
	}
	return ""
}

func bracketDelta(line string) int {
	delta := 0
	var quote rune
	for _, r := range line {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '#':
			return delta
		case '"', '\'':
			quote = r
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}
