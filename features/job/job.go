package job

import (
	"encoding/json"
	"time"
)

// Job is a pipeline job that exhausted its attempts or failed terminally.
// Handler holds the stage name so a retry can route it back.
type Job struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Handler   string          `json:"handler"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
