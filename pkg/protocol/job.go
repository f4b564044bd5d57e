package protocol

import "time"

// JobStatus represents the lifecycle state of a response job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobInFlight  JobStatus = "in_flight"
	JobDelivered JobStatus = "delivered"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the job has reached a final state.
func (s JobStatus) Terminal() bool {
	return s == JobDelivered || s == JobFailed
}

// ResponseJob is the unit of work for "generate and deliver a reply to this
// inbound message". Jobs live in memory while running; terminal jobs are
// archived to the store for audit.
type ResponseJob struct {
	ID         string    `json:"id"`
	AccountID  int64     `json:"account_id"`
	ChatID     string    `json:"chat_id"`
	MessageKey string    `json:"message_key"`
	Attempts   int       `json:"attempts"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
