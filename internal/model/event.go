package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RunEvent is the payload a client sends to create ("post") or amend ("patch") a run.
// Absent fields are left as their zero values.
type RunEvent struct {
	Id                 string   `json:"id"`
	Name               string   `json:"name,omitempty"`
	RunType            string   `json:"run_type,omitempty"`
	StartTime          string   `json:"start_time,omitempty"`
	EndTime            string   `json:"end_time,omitempty"`
	Extra              *Tree    `json:"extra,omitempty"`
	Serialized         *Tree    `json:"serialized,omitempty"`
	Events             []Event  `json:"events,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Error              string   `json:"error,omitempty"`
	ReferenceExampleId string   `json:"reference_example_id,omitempty"`
	ParentRunId        string   `json:"parent_run_id,omitempty"`
	TraceId            string   `json:"trace_id,omitempty"`
	DottedOrder        string   `json:"dotted_order,omitempty"`
	Inputs             *Tree    `json:"inputs,omitempty"`
	Outputs            *Tree    `json:"outputs,omitempty"`
	SessionName        string   `json:"session_name,omitempty"`
	ApiKey             string   `json:"api_key,omitempty"`
	// Set by the gateway when the event is received.
	ServerCreatedAt *time.Time `json:"server_created_at,omitempty"`
}

// Layouts accepted for start_time and end_time. Client SDKs send RFC 3339, sometimes without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a run timestamp. Timestamps without a zone are taken to be UTC.
// An empty string yields nil.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.Errorf("cannot parse %q as a timestamp", s)
}
