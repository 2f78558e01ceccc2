package notify

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEvent = errors.New("invalid completion event")

// Event is one completion report from the CI server.
type Event struct {
	JobName     string
	BuildNumber int64
	Status      string
	Target      string
	RequestID   string
	TraceID     string
}

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	var missing []string
	if strings.TrimSpace(e.JobName) == "" {
		missing = append(missing, "job_name")
	}
	if e.BuildNumber <= 0 {
		missing = append(missing, "build_number")
	}
	if strings.TrimSpace(e.Status) == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

func (e Event) Succeeded() bool {
	return strings.EqualFold(e.Status, "SUCCESS")
}
