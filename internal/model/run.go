package model

import (
	"time"
)

// Event is a named point in time recorded against a run, e.g. "start" or "new_token".
type Event struct {
	Name   string `json:"name"`
	Time   string `json:"time,omitempty"`
	Kwargs *Tree  `json:"kwargs,omitempty"`
}

// Run is the stored record of one execution span.
type Run struct {
	// Server-assigned, monotonically increasing. Used as the pagination cursor.
	Id                 int64      `json:"id"`
	RunId              string     `json:"run_id"`
	Name               string     `json:"name"`
	RunType            string     `json:"run_type"`
	StartTime          *time.Time `json:"start_time"`
	EndTime            *time.Time `json:"end_time"`
	Extra              *Tree      `json:"extra"`
	Serialized         *Tree      `json:"serialized"`
	Events             []Event    `json:"events"`
	Tags               []string   `json:"tags"`
	Error              *string    `json:"error"`
	ReferenceExampleId *string    `json:"reference_example_id"`
	ParentRunId        *string    `json:"parent_run_id"`
	TraceId            *string    `json:"trace_id"`
	DottedOrder        *string    `json:"dotted_order"`
	Inputs             *Tree      `json:"inputs"`
	Outputs            *Tree      `json:"outputs"`
	SessionName        *string    `json:"session_name"`
	ApiKey             string     `json:"-"`
	UserId             int64      `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at"`
}

// DeepCopy returns a copy of r that shares no mutable state with it.
func (r *Run) DeepCopy() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.StartTime = copyTime(r.StartTime)
	out.EndTime = copyTime(r.EndTime)
	out.UpdatedAt = copyTime(r.UpdatedAt)
	out.Extra = r.Extra.Clone()
	out.Serialized = r.Serialized.Clone()
	out.Inputs = r.Inputs.Clone()
	out.Outputs = r.Outputs.Clone()
	out.Error = copyString(r.Error)
	out.ReferenceExampleId = copyString(r.ReferenceExampleId)
	out.ParentRunId = copyString(r.ParentRunId)
	out.TraceId = copyString(r.TraceId)
	out.DottedOrder = copyString(r.DottedOrder)
	out.SessionName = copyString(r.SessionName)
	if r.Tags != nil {
		out.Tags = append([]string{}, r.Tags...)
	}
	if r.Events != nil {
		out.Events = make([]Event, len(r.Events))
		for i, e := range r.Events {
			out.Events[i] = Event{Name: e.Name, Time: e.Time, Kwargs: e.Kwargs.Clone()}
		}
	}
	return &out
}

// Failed reports whether the run recorded an error.
func (r *Run) Failed() bool {
	return r.Error != nil
}

// UniqueTags returns tags with duplicates removed, keeping first-seen order.
func UniqueTags(tagLists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, tags := range tagLists {
		for _, tag := range tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// UniqueEvents concatenates the given sequences and keeps only the first event for each name.
func UniqueEvents(eventLists ...[]Event) []Event {
	seen := map[string]bool{}
	out := []Event{}
	for _, events := range eventLists {
		for _, e := range events {
			if seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			out = append(out, Event{Name: e.Name, Time: e.Time, Kwargs: e.Kwargs.Clone()})
		}
	}
	return out
}

// StringPtr returns nil for the empty string and a pointer to a copy of s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
