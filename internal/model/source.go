package model

type SourceFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}

// LoadedSource is what every loader produces, regardless of where the text came from.
type LoadedSource struct {
	Source     string            `json:"source"`
	Content    string            `json:"content"`
	Files      []SourceFile      `json:"files"`
	TokenCount int               `json:"token_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
