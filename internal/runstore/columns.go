package runstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/model"
)

// RunColumns lists the columns returned to readers, in the order ScanRun expects them.
// api_key and user_id are never read back out.
var RunColumns = []string{
	"id",
	"run_id",
	"name",
	"run_type",
	"start_time",
	"end_time",
	"extra",
	"serialized",
	"events",
	"tags",
	"error",
	"reference_example_id",
	"parent_run_id",
	"trace_id",
	"dotted_order",
	"inputs",
	"outputs",
	"session_name",
	"created_at",
	"updated_at",
}

var selectRunColumns = strings.Join(RunColumns, ", ")

// Scanner is implemented by pgx.Row, pgx.Rows and *sql.Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// ScanRun reads one row selected with RunColumns.
func ScanRun(row Scanner) (*model.Run, error) {
	var (
		run                           model.Run
		name                          *string
		extra, serialized             []byte
		events, tags                  []byte
		inputs, outputs               []byte
		startTime, endTime, updatedAt *time.Time
	)
	err := row.Scan(
		&run.Id,
		&run.RunId,
		&name,
		&run.RunType,
		&startTime,
		&endTime,
		&extra,
		&serialized,
		&events,
		&tags,
		&run.Error,
		&run.ReferenceExampleId,
		&run.ParentRunId,
		&run.TraceId,
		&run.DottedOrder,
		&inputs,
		&outputs,
		&run.SessionName,
		&run.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		run.Name = *name
	}
	run.StartTime = utc(startTime)
	run.EndTime = utc(endTime)
	run.UpdatedAt = utc(updatedAt)
	run.CreatedAt = run.CreatedAt.UTC()

	if run.Extra, err = decodeTree(extra); err != nil {
		return nil, errors.WithMessage(err, "extra")
	}
	if run.Serialized, err = decodeTree(serialized); err != nil {
		return nil, errors.WithMessage(err, "serialized")
	}
	if run.Inputs, err = decodeTree(inputs); err != nil {
		return nil, errors.WithMessage(err, "inputs")
	}
	if run.Outputs, err = decodeTree(outputs); err != nil {
		return nil, errors.WithMessage(err, "outputs")
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &run.Events); err != nil {
			return nil, errors.Wrap(err, "events")
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &run.Tags); err != nil {
			return nil, errors.Wrap(err, "tags")
		}
	}
	return &run, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func decodeTree(data []byte) (*model.Tree, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	return model.ParseTree(data)
}

// jsonParam encodes v for a jsonb column. Nil trees and slices become SQL NULL.
func jsonParam(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case *model.Tree:
		if t == nil {
			return nil, nil
		}
	case []model.Event:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return string(data), nil
}
