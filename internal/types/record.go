package types

import (
	"time"
)

// Method identifies which stage fetched a URL.
type Method string

const (
	MethodHTTP    Method = "http"
	MethodBrowser Method = "browser"
)

// Stage identifies where in the pipeline a fetch happened.
type Stage string

const (
	StagePrimary  Stage = "primary"
	StageFallback Stage = "fallback"
)

// Status is the outcome of processing one URL.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusCaptchaDetected Status = "captcha_detected"
	StatusRobotsBlocked   Status = "robots_blocked"
	StatusHTTPError       Status = "http_error"
	StatusTimeout         Status = "timeout"
	StatusInvalidURL      Status = "invalid_url"
	StatusTooLarge        Status = "too_large"
	StatusOtherError      Status = "other_error"
)

// Job is one URL to process, enriched with its shard coordinates.
// Immutable once created; identity is URL.
type Job struct {
	URL          string
	ShardIndex   int
	IndexInShard int
	DynamicHint  bool
}

// FetchRecord is the in-memory result of one stage attempt. It may carry
// the fetched body; the body is stripped when converting to a URLRecord.
type FetchRecord struct {
	URL             string
	Host            string
	Method          Method
	Stage           Stage
	Status          Status
	HTTPStatus      int
	LatencyMS       int64
	ContentLength   int64
	Encoding        string
	Retries         int
	CaptchaDetected bool
	RobotsDisallow  bool
	BlockVendor     string
	ErrorKind       string
	ErrorMessage    string
	Title           string
	Description     string
	StartedAt       time.Time
	FinishedAt      time.Time
	ShardIndex      int

	// Body holds the decoded response content. Never persisted.
	Body string
}

// NewFetchRecord initializes a record for a job before the attempt runs.
// Status starts as other_error so an early return still classifies.
func NewFetchRecord(job Job, method Method, stage Stage) *FetchRecord {
	now := time.Now().UTC()
	return &FetchRecord{
		URL:        job.URL,
		Method:     method,
		Stage:      stage,
		Status:     StatusOtherError,
		StartedAt:  now,
		FinishedAt: now,
		ShardIndex: job.ShardIndex,
	}
}

// Finish stamps the completion time.
func (r *FetchRecord) Finish() {
	r.FinishedAt = time.Now().UTC()
}

// URLRecord is the persisted per-URL outcome, one JSONL line each.
// It is the FetchRecord minus the body, with a single finish timestamp.
// Consumers must tolerate unknown fields; fields here are append-only.
type URLRecord struct {
	URL             string `json:"url"`
	Host            string `json:"host"`
	Method          Method `json:"method"`
	Stage           Stage  `json:"stage"`
	Status          Status `json:"status"`
	HTTPStatus      *int   `json:"http_status"`
	LatencyMS       *int64 `json:"latency_ms"`
	ContentLength   int64  `json:"content_length"`
	Encoding        string `json:"encoding,omitempty"`
	Retries         int    `json:"retries"`
	CaptchaDetected bool   `json:"captcha_detected"`
	RobotsDisallow  bool   `json:"robots_disallowed"`
	BlockVendor     string `json:"block_vendor,omitempty"`
	ErrorKind       string `json:"error_kind,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	Timestamp       string `json:"timestamp"`
	ShardIndex      int    `json:"shard_index"`
}

// ToURLRecord strips the body and collapses the timing into the finish
// timestamp. Every attempted job produces exactly one of these.
func (r *FetchRecord) ToURLRecord() URLRecord {
	rec := URLRecord{
		URL:             r.URL,
		Host:            r.Host,
		Method:          r.Method,
		Stage:           r.Stage,
		Status:          r.Status,
		ContentLength:   r.ContentLength,
		Encoding:        r.Encoding,
		Retries:         r.Retries,
		CaptchaDetected: r.CaptchaDetected,
		RobotsDisallow:  r.RobotsDisallow,
		BlockVendor:     r.BlockVendor,
		ErrorKind:       r.ErrorKind,
		ErrorMessage:    r.ErrorMessage,
		Title:           r.Title,
		Description:     r.Description,
		Timestamp:       r.FinishedAt.UTC().Format(time.RFC3339Nano),
		ShardIndex:      r.ShardIndex,
	}
	if r.HTTPStatus != 0 {
		status := r.HTTPStatus
		rec.HTTPStatus = &status
	}
	if r.LatencyMS > 0 {
		latency := r.LatencyMS
		rec.LatencyMS = &latency
	}
	return rec
}
