package types

// RunSummary is the single aggregate object written once per run.
// The JSON schema is append-only: new fields may be added, existing
// names are never renamed or removed.
type RunSummary struct {
	TotalURLs int `json:"total_urls"`
	StatsRows int `json:"stats_rows"`

	SuccessRate     float64 `json:"success_rate"`
	HTTPErrorRate   float64 `json:"http_error_rate"`
	TimeoutRate     float64 `json:"timeout_rate"`
	CaptchaRate     float64 `json:"captcha_rate"`
	RobotsBlockRate float64 `json:"robots_block_rate"`

	HTTPShare    float64 `json:"httpx_share"`
	BrowserShare float64 `json:"playwright_share"`

	P50LatencyHTTPMS    *int64 `json:"p50_latency_httpx_ms"`
	P95LatencyHTTPMS    *int64 `json:"p95_latency_httpx_ms"`
	P50LatencyBrowserMS *int64 `json:"p50_latency_playwright_ms"`
	P95LatencyBrowserMS *int64 `json:"p95_latency_playwright_ms"`

	AvgContentLenHTTP    *int64 `json:"avg_content_len_httpx"`
	AvgContentLenBrowser *int64 `json:"avg_content_len_playwright"`

	// Set when the run was cut short by the guardrail; the summary then
	// covers only the records written before the abort.
	Aborted     bool   `json:"aborted,omitempty"`
	AbortedNote string `json:"aborted_note,omitempty"`
}

// ShardStatus is the lifecycle state of one shard checkpoint.
type ShardStatus string

const (
	ShardPending    ShardStatus = "pending"
	ShardInProgress ShardStatus = "in_progress"
	ShardCompleted  ShardStatus = "completed"
	ShardFailed     ShardStatus = "failed"
)

// ShardCheckpoint is the per-shard progress journal, written after each
// completed URL and read at shard start to skip finished shards.
type ShardCheckpoint struct {
	RunID         string      `json:"run_id"`
	ShardID       int         `json:"shard_id"`
	URLsTotal     int         `json:"urls_total"`
	URLsDone      int         `json:"urls_done"`
	LastUpdatedAt string      `json:"last_updated_at"`
	Status        ShardStatus `json:"status"`
}
