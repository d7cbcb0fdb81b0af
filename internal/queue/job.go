// Package queue is the multi-stage pipeline job queue. NSQ carries small envelopes;
// the authoritative job state lives in the pipeline_jobs table so jobs can be
// inspected, counted per user and cancelled.
package queue

import (
	"encoding/json"
	"time"

	"marksort/backend/internal/config"
)

type Stage string

const (
	StageIngest     Stage = "ingest"
	StageEnrichment Stage = "enrichment"
	StageEmbedding  Stage = "embedding"
	StageClustering Stage = "clustering"
)

var Stages = []Stage{StageIngest, StageEnrichment, StageEmbedding, StageClustering}

func (s Stage) Topic() string {
	switch s {
	case StageIngest:
		return config.TopicIngest
	case StageEnrichment:
		return config.TopicEnrichment
	case StageEmbedding:
		return config.TopicEmbedding
	case StageClustering:
		return config.TopicClustering
	}
	return ""
}

func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Pending covers every state in which a job may still run.
var Pending = []State{StateWaiting, StateActive, StateDelayed}

type Job struct {
	ID             string          `json:"id"`
	Stage          Stage           `json:"stage"`
	UserID         string          `json:"user_id"`
	Payload        json.RawMessage `json:"payload"`
	State          State           `json:"state"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Processed      int             `json:"processed"`
	Total          int             `json:"total"`
	LastError      string          `json:"last_error,omitempty"`
	RunAt          time.Time       `json:"run_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Options struct {
	Delay          time.Duration
	IdempotencyKey string
	MaxAttempts    int
}

// envelope is the NSQ message body.
type envelope struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
