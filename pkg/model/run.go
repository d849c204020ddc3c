package model

import "time"

// Run is one recorded execution of the simulation driver.
type Run struct {
	ID          string     `json:"id"`
	State       RunState   `json:"state"`
	Workers     int        `json:"workers"`
	Particles   int        `json:"particles"`
	ChunkSize   int        `json:"chunk_size"`
	Steps       int        `json:"steps"`
	StepsDone   int        `json:"steps_done"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepRecord is the persisted result of one simulation step.
type StepRecord struct {
	RunID      string    `json:"run_id"`
	Step       int       `json:"step"`
	Particles  int       `json:"particles"`
	Chunks     int       `json:"chunks"`
	DurationNs int64     `json:"duration_ns"`
	Kinetic    float64   `json:"kinetic"`
	MaxHeight  float64   `json:"max_height"`
	Bounces    int       `json:"bounces"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}
