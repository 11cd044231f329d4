package chunker

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// headingScanner uses the goldmark AST so that '#' lines inside fenced code are not taken as headings.
type headingScanner struct{}

func (s *headingScanner) FindBoundaries(lines []string) ([]Boundary, error) {
	source := []byte(strings.Join(lines, "\n"))
	lineStarts := make([]int, len(lines))
	offset := 0
	for i, line := range lines {
		lineStarts[i] = offset
		offset += len(line) + 1
	}

	reader := text.NewReader(source)
	doc := goldmark.New().Parser().Parse(reader)

	var bounds []Boundary
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Lines().Len() == 0 {
			continue
		}
		start := heading.Lines().At(0).Start
		line := sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > start }) - 1
		if line < 0 {
			line = 0
		}
		bounds = append(bounds, Boundary{
			StartLine: line,
			Kind:      "section",
			Name:      strings.TrimSpace(string(heading.Text(source))),
		})
	}
	return bounds, nil
}
