package merger

import (
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/model"
)

// NewRunFromEvent builds the row inserted for a create event.
func NewRunFromEvent(event *model.RunEvent, userId int64, apiKey string, now time.Time) (*model.Run, error) {
	if event.Id == "" {
		return nil, errors.WithStack(&runerrors.ErrInvalidArgument{
			Name:    "id",
			Value:   event.Id,
			Message: "run id must be non-empty",
		})
	}
	if event.RunType == "" {
		return nil, errors.WithStack(&runerrors.ErrInvalidArgument{
			Name:    "run_type",
			Value:   event.RunType,
			Message: "run_type must be non-empty when creating a run",
		})
	}
	startTime, err := parseTime("start_time", event.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := parseTime("end_time", event.EndTime)
	if err != nil {
		return nil, err
	}
	return &model.Run{
		RunId:              event.Id,
		Name:               event.Name,
		RunType:            event.RunType,
		StartTime:          startTime,
		EndTime:            endTime,
		Extra:              event.Extra.Clone(),
		Serialized:         event.Serialized.Clone(),
		Events:             model.UniqueEvents(event.Events),
		Tags:               model.UniqueTags(event.Tags),
		Error:              model.StringPtr(event.Error),
		ReferenceExampleId: model.StringPtr(event.ReferenceExampleId),
		ParentRunId:        model.StringPtr(event.ParentRunId),
		TraceId:            model.StringPtr(event.TraceId),
		DottedOrder:        model.StringPtr(event.DottedOrder),
		Inputs:             event.Inputs.Clone(),
		Outputs:            event.Outputs.Clone(),
		SessionName:        model.StringPtr(event.SessionName),
		ApiKey:             apiKey,
		UserId:             userId,
		CreatedAt:          now,
	}, nil
}

// MergeRun applies a patch event to a stored run and returns the result; stored is not modified.
//
// Scalars and payload trees are replaced only by non-empty patch values, so a patch can never clear
// a field, error included. Tags are unioned. Events are concatenated stored-first and deduplicated
// by name, so the first event recorded under a name is kept. Serialized is deep-merged with the
// patch winning at each leaf. Owner, extra and reference_example_id are never changed by a patch.
func MergeRun(stored *model.Run, patch *model.RunEvent, now time.Time) (*model.Run, error) {
	startTime, err := parseTime("start_time", patch.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := parseTime("end_time", patch.EndTime)
	if err != nil {
		return nil, err
	}

	out := stored.DeepCopy()
	if startTime != nil {
		out.StartTime = startTime
	}
	if endTime != nil {
		out.EndTime = endTime
	}
	overrideString(&out.Name, patch.Name)
	overrideString(&out.RunType, patch.RunType)
	overrideStringPtr(&out.Error, patch.Error)
	overrideStringPtr(&out.ParentRunId, patch.ParentRunId)
	overrideStringPtr(&out.DottedOrder, patch.DottedOrder)
	overrideStringPtr(&out.SessionName, patch.SessionName)
	overrideStringPtr(&out.TraceId, patch.TraceId)
	overrideTree(&out.Inputs, patch.Inputs)
	overrideTree(&out.Outputs, patch.Outputs)

	out.Tags = model.UniqueTags(stored.Tags, patch.Tags)
	out.Events = model.UniqueEvents(stored.Events, patch.Events)
	out.Serialized = model.DeepMerge(stored.Serialized, patch.Serialized)
	out.UpdatedAt = &now
	return out, nil
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideStringPtr(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

func overrideTree(dst **model.Tree, v *model.Tree) {
	if !v.IsEmpty() {
		*dst = v.Clone()
	}
}

func parseTime(field string, value string) (*time.Time, error) {
	t, err := model.ParseTimestamp(value)
	if err != nil {
		return nil, errors.WithStack(&runerrors.ErrInvalidArgument{
			Name:    field,
			Value:   value,
			Message: err.Error(),
		})
	}
	return t, nil
}
