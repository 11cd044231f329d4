package model

type CodeChunk struct {
	ID         string   `json:"id"`
	Alias      string   `json:"alias"`
	FilePath   string   `json:"file_path"`
	FileType   string   `json:"file_type"`
	ChunkIndex int      `json:"chunk_index"`
	Content    string   `json:"content"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	TokenCount int      `json:"token_count"`
	Exports    []string `json:"exports,omitempty"`
}
