package dto

import "encoding/json"

// CompletionRequest is the build result Jenkins reports when a job finishes.
// Fields arrive as query parameters, form fields or JSON.
type CompletionRequest struct {
	JobName        string      `form:"job_name" json:"job_name" binding:"required"`
	BuildNumber    json.Number `form:"build_number" json:"build_number" binding:"required"`
	Status         string      `form:"status" json:"status" binding:"required"`
	BuildTarget    string      `form:"build_target" json:"build_target"`
	BuildRequestID string      `form:"build_request_id" json:"build_request_id"`
}

type CompletionResponse struct {
	Status string `json:"status"`
}
