package model

import (
	"database/sql"
)

// All timestamps are unix milliseconds.

const (
	CatalogOnline  = "online"
	CatalogOffline = "offline"
)

const (
	ResearchQueued  = "queued"
	ResearchRunning = "running"
	ResearchDone    = "done"
	ResearchFailed  = "failed"
)

// Setting is one row of the key/value control store.
type Setting struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

// CatalogEntry is one model advertised by one provider.
type CatalogEntry struct {
	ID               int64          `db:"id" json:"id"`
	ProviderID       string         `db:"provider_id" json:"provider_id"`
	ModelID          string         `db:"model_id" json:"model_id"`
	RawJSON          string         `db:"raw_json" json:"raw_json"`
	CapabilitiesJSON string         `db:"capabilities_json" json:"capabilities_json"`
	Status           string         `db:"status" json:"status"`
	OfflineSince     sql.NullInt64  `db:"offline_since_unix_ms" json:"offline_since_unix_ms"`
	ExpireAt         sql.NullInt64  `db:"expire_at_unix_ms" json:"expire_at_unix_ms"`
	FetchedAt        int64          `db:"fetched_at_unix_ms" json:"fetched_at_unix_ms"`
	ContentHash      sql.NullString `db:"etag_or_hash" json:"etag_or_hash"`
	CreatedAt        int64          `db:"created_at_unix_ms" json:"created_at_unix_ms"`
	UpdatedAt        int64          `db:"updated_at_unix_ms" json:"updated_at_unix_ms"`
}

type CatalogFilter struct {
	ProviderID string
	Status     string
}

// LayerPreset is the persisted tier-to-model assignment. Exactly one row per tier.
type LayerPreset struct {
	Layer                 string         `db:"layer" json:"layer"`
	SelectedModelID       sql.NullString `db:"selected_model_id" json:"selected_model_id"`
	SelectionReasonJSON   sql.NullString `db:"selection_reason_json" json:"selection_reason_json"`
	DefaultPromptTemplate string         `db:"default_prompt_template" json:"default_prompt_template"`
	ConstraintsJSON       string         `db:"constraints_json" json:"constraints_json"`
	UpdatedAt             int64          `db:"updated_at_unix_ms" json:"updated_at_unix_ms"`
}

// Task is a scheduled background job. PayloadJSON carries the job type,
// its interval and the last-run marker.
type Task struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Cron        sql.NullString `db:"cron" json:"cron"`
	PayloadJSON string         `db:"payload_json" json:"payload_json"`
	Enabled     bool           `db:"enabled" json:"enabled"`
	CreatedAt   int64          `db:"created_at_unix_ms" json:"created_at_unix_ms"`
	UpdatedAt   int64          `db:"updated_at_unix_ms" json:"updated_at_unix_ms"`
}

type ResearchJob struct {
	ID                 int64          `db:"id" json:"id"`
	Query              string         `db:"query" json:"query"`
	Collection         string         `db:"collection" json:"collection"`
	Status             string         `db:"status" json:"status"`
	ScheduledAt        int64          `db:"scheduled_at_unix_ms" json:"scheduled_at_unix_ms"`
	QueryEmbeddingJSON sql.NullString `db:"query_embedding_json" json:"query_embedding_json"`
	ResultJSON         sql.NullString `db:"result_json" json:"result_json"`
	Error              sql.NullString `db:"error" json:"error"`
	CreatedAt          int64          `db:"created_at_unix_ms" json:"created_at_unix_ms"`
	UpdatedAt          int64          `db:"updated_at_unix_ms" json:"updated_at_unix_ms"`
}

// AuditLog is an append-only, encrypted audit record.
type AuditLog struct {
	ID               int64  `db:"id" json:"id"`
	Actor            string `db:"actor" json:"actor"`
	Action           string `db:"action" json:"action"`
	EncryptedPayload []byte `db:"encrypted_payload" json:"-"`
	CreatedAt        int64  `db:"created_at_unix_ms" json:"created_at_unix_ms"`
	ExpireAt         int64  `db:"expire_at_unix_ms" json:"expire_at_unix_ms"`
}

// AuditFilter narrows audit listings. Zero values mean unbounded.
type AuditFilter struct {
	Since  int64
	Until  int64
	Action string
	Limit  int
}

type Checksum struct {
	Key        string `db:"key" json:"key"`
	Checksum   string `db:"checksum" json:"checksum"`
	ComputedAt int64  `db:"computed_at_unix_ms" json:"computed_at_unix_ms"`
}

// TraceEvent records one upstream dispatch attempt. Catalog cleanup treats
// any (provider_id, model_id) pair referenced here as still in use.
type TraceEvent struct {
	ID         int64          `db:"id" json:"id"`
	TraceID    string         `db:"trace_id" json:"trace_id"`
	EventKind  string         `db:"event_kind" json:"event_kind"`
	ProviderID sql.NullString `db:"provider_id" json:"provider_id"`
	ModelID    sql.NullString `db:"model_id" json:"model_id"`
	Status     string         `db:"status" json:"status"`
	StatusCode int            `db:"status_code" json:"status_code"`
	LatencyMS  int64          `db:"latency_ms" json:"latency_ms"`
	Error      sql.NullString `db:"error" json:"error"`
	TS         int64          `db:"ts_unix_ms" json:"ts_unix_ms"`
}

// ProviderStats aggregates trace events per provider.
type ProviderStats struct {
	ProviderID     string  `db:"provider_id" json:"provider_id"`
	TotalAttempts  int     `db:"total_attempts" json:"total_attempts"`
	Successes      int     `db:"successes" json:"successes"`
	Failures       int     `db:"failures" json:"failures"`
	AverageLatency float64 `db:"avg_latency" json:"avg_latency"`
}
