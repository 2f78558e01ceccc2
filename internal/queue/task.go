package queue

import "buildrelay.app/relay/internal/notify"

// NotificationTask is a completion event waiting on the stream for delivery.
type NotificationTask struct {
	JobName     string
	BuildNumber int64
	Status      string
	Target      string
	RequestID   string
	TraceID     string
	Attempt     int
}

func TaskFromEvent(ev notify.Event) NotificationTask {
	return NotificationTask{
		JobName:     ev.JobName,
		BuildNumber: ev.BuildNumber,
		Status:      ev.Status,
		Target:      ev.Target,
		RequestID:   ev.RequestID,
		TraceID:     ev.TraceID,
	}
}

func (t NotificationTask) Event() notify.Event {
	return notify.Event{
		JobName:     t.JobName,
		BuildNumber: t.BuildNumber,
		Status:      t.Status,
		Target:      t.Target,
		RequestID:   t.RequestID,
		TraceID:     t.TraceID,
	}
}

// values encodes the task as stream fields.
func (t NotificationTask) values(attempt int) map[string]any {
	values := map[string]any{
		"job_name":     t.JobName,
		"build_number": t.BuildNumber,
		"status":       t.Status,
		"attempt":      attempt,
	}
	if t.Target != "" {
		values["build_target"] = t.Target
	}
	if t.RequestID != "" {
		values["build_request_id"] = t.RequestID
	}
	if t.TraceID != "" {
		values["trace_id"] = t.TraceID
	}
	return values
}
