package model

import "time"

// GroupConfig links one chat group to one CI job. A group has at most one link;
// saving a new one replaces the old.
type GroupConfig struct {
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	JobPath      string    `json:"job_path"`
	ID           int64     `json:"id"`
	GroupID      int64     `json:"group_id"`
	ConfiguredBy int64     `json:"configured_by"`
}
