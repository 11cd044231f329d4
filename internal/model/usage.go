package model

type UsageRecord struct {
	Alias        string `json:"alias"`
	Operation    string `json:"operation"`
	Model        string `json:"model"`
	Tier         string `json:"tier"`
	Tokens       int    `json:"tokens"`
	CachedTokens int    `json:"cached_tokens"`
	Ctime        int64  `json:"ctime"`
}

type UsageSummary struct {
	Alias        string `json:"alias"`
	Requests     int64  `json:"requests"`
	Tokens       int64  `json:"tokens"`
	CachedTokens int64  `json:"cached_tokens"`
}
