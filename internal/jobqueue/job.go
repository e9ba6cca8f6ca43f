package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of durable scheduled work. A job with a zero Interval
// fires once at RunAt; a recurring job is re-enqueued at claim time for
// RunAt + Interval.
type Job struct {
	ID        string         `json:"id"`
	HookName  string         `json:"hook_name"`
	Args      map[string]any `json:"args,omitempty"`
	Interval  time.Duration  `json:"interval,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	RunAt     time.Time      `json:"run_at"`
}

func NewJob(hookName string, runAt time.Time, args map[string]any) *Job {
	return &Job{
		ID:        uuid.New().String(),
		HookName:  hookName,
		Args:      args,
		CreatedAt: time.Now(),
		RunAt:     runAt,
	}
}

func (j *Job) Recurring() bool {
	return j.Interval > 0
}

func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func JobFromJSON(data string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}

	return &job, nil
}
