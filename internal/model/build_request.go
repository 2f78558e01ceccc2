package model

import "time"

// BuildRequest correlates a triggered build with the group and user to notify.
// BuildNumber stays nil until a completion event reports it.
type BuildRequest struct {
	CreatedAt   time.Time `json:"created_at"`
	BuildNumber *int64    `json:"build_number,omitempty"`
	RequestID   string    `json:"request_id"`
	JobPath     string    `json:"job_path"`
	Target      string    `json:"target"`
	GroupID     int64     `json:"group_id"`
	RequesterID int64     `json:"requester_id"`
}
