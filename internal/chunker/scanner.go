package chunker

import "errors"

var errMalformed = errors.New("malformed structure")

// Boundary marks the first line (0-indexed) of a top-level declaration or section.
type Boundary struct {
	StartLine int
	Kind      string
	Name      string
	Exported  bool
}

// BoundaryScanner finds structural boundaries for one family of file types.
// It returns errMalformed when the structure cannot be trusted, in which case the
// caller falls back to fixed windows.
type BoundaryScanner interface {
	FindBoundaries(lines []string) ([]Boundary, error)
}

func scannerFor(kind fileKind) BoundaryScanner {
	switch kind.family {
	case familyBrace:
		return &braceScanner{lang: kind.fileType}
	case familyIndent:
		return &indentScanner{}
	case familyHeading:
		return &headingScanner{}
	default:
		return nil
	}
}
