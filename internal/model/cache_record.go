package model

import "time"

// SourceSeparator joins the descriptors of a composite load.
const SourceSeparator = "+"

// CacheHandle pairs an opaque provider-side cache name with the provider that owns it.
type CacheHandle struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

type CacheRecord struct {
	Name              string    `json:"name"`
	Alias             string    `json:"alias"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	Source            string    `json:"source"`
	SystemInstruction string    `json:"system_instruction,omitempty"`
	TokenCount        int       `json:"token_count"`
	TTLSeconds        int64     `json:"ttl_seconds"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

func (r *CacheRecord) Handle() CacheHandle {
	return CacheHandle{Provider: r.Provider, Name: r.Name}
}

func (r *CacheRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r *CacheRecord) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type CacheRecordStatus struct {
	CacheRecord
	Expired          bool  `json:"expired"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// ExpiredNotice is returned instead of an error when a record outlived its provider cache.
type ExpiredNotice struct {
	Alias     string    `json:"alias"`
	Source    string    `json:"source"`
	ExpiredAt time.Time `json:"expired_at"`
	Recovery  string    `json:"recovery"`
	Message   string    `json:"message"`
}
