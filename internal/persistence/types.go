package persistence

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one walk over the catalog.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"` // cli, cron, api, plugin
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"` // zero while running

	Total          int    `json:"total"`
	Visited        int    `json:"visited"`
	Extracted      int    `json:"extracted"`
	AlreadyPresent int    `json:"already_present"`
	Tagged         int    `json:"tagged"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	Error          string `json:"error,omitempty"`
}

// Outcome is the result of processing one scene within a run.
type Outcome struct {
	RunID          string    `json:"run_id"`
	Seq            int       `json:"seq"`
	SceneID        string    `json:"scene_id"`
	Title          string    `json:"title"`
	MediaPath      string    `json:"media_path"`
	Status         string    `json:"status"`
	Tracks         int       `json:"tracks"`
	Extracted      int       `json:"extracted"`
	AlreadyPresent int       `json:"already_present"`
	Tagged         bool      `json:"tagged"`
	Cues           int       `json:"cues"`
	Languages      []string  `json:"languages"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
