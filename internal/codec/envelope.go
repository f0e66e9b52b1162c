// Package codec converts rule variants to and from their stored form. Criteria and
// actions are written as a tagged envelope {"type": <tag>, "data": <payload>} where
// the tag is the variant's stable kind string. Decoding fails closed: an unknown or
// missing tag, or a payload that does not fit the tagged variant, is an error.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/t77yq/alarm-rules/internal/model"
)

var (
	// ErrUnknownVariant is returned when an envelope carries an unrecognised tag
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrMalformedEnvelope is returned when stored data is not a valid envelope or
	// its payload does not match the tagged variant
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Envelope is the stored shape of a tagged variant
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type basedOnTimeData struct {
	Start *model.TimeOfDay `json:"startTime"`
	End   *model.TimeOfDay `json:"endTime"`
}

type calendarData struct {
	Keywords         []string `json:"keywords"`
	TimeRangeMinutes int      `json:"timeRangeMinutes"`
	AllDay           bool     `json:"allDay"`
}

type shiftWorkData struct {
	CycleDays          *int                  `json:"cycleDays"`
	ShiftsPerCycle     *int                  `json:"shiftsPerCycle"`
	StartDate          *int64                `json:"startDate"`
	CurrentShiftIndex  int                   `json:"currentShiftIndex"`
	HolidayCalendarIDs []int64               `json:"holidayCalendarIds"`
	HolidayHandling    model.HolidayHandling `json:"holidayHandling"`
}

type adjustData struct {
	NewTime *model.TimeOfDay `json:"newTime"`
}

// EncodeCriteria writes c as a tagged envelope
func EncodeCriteria(c model.Criteria) ([]byte, error) {
	var payload any
	switch v := c.(type) {
	case model.AlwaysTrue:
		payload = struct{}{}
	case model.BasedOnTime:
		payload = basedOnTimeData{Start: &v.Start, End: &v.End}
	case model.IfCalendarEventExists:
		payload = calendarData(v)
	case model.ShiftWork:
		payload = shiftWorkData{
			CycleDays:          &v.CycleDays,
			ShiftsPerCycle:     &v.ShiftsPerCycle,
			StartDate:          &v.StartDate,
			CurrentShiftIndex:  v.CurrentShiftIndex,
			HolidayCalendarIDs: v.HolidayCalendarIDs,
			HolidayHandling:    v.HolidayHandling,
		}
	case nil:
		return nil, fmt.Errorf("%w: nil criteria", ErrUnknownVariant)
	default:
		return nil, fmt.Errorf("%w: criteria %T", ErrUnknownVariant, c)
	}
	return encode(string(c.Kind()), payload)
}

// DecodeCriteria reads a tagged envelope written by EncodeCriteria
func DecodeCriteria(data []byte) (model.Criteria, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch model.CriteriaKind(env.Type) {
	case model.CriteriaAlwaysTrue:
		if err := decodeEmpty(env); err != nil {
			return nil, err
		}
		return model.AlwaysTrue{}, nil

	case model.CriteriaBasedOnTime:
		var d basedOnTimeData
		if err := decodePayload(env, &d); err != nil {
			return nil, err
		}
		if d.Start == nil || d.End == nil {
			return nil, fmt.Errorf("%w: %s requires startTime and endTime", ErrMalformedEnvelope, env.Type)
		}
		return model.BasedOnTime{Start: *d.Start, End: *d.End}, nil

	case model.CriteriaIfCalendarEventExists:
		var d calendarData
		if err := decodePayload(env, &d); err != nil {
			return nil, err
		}
		return model.IfCalendarEventExists(d), nil

	case model.CriteriaShiftWork:
		var d shiftWorkData
		if err := decodePayload(env, &d); err != nil {
			return nil, err
		}
		if d.CycleDays == nil || d.ShiftsPerCycle == nil || d.StartDate == nil {
			return nil, fmt.Errorf("%w: %s requires cycleDays, shiftsPerCycle and startDate", ErrMalformedEnvelope, env.Type)
		}
		return model.ShiftWork{
			CycleDays:          *d.CycleDays,
			ShiftsPerCycle:     *d.ShiftsPerCycle,
			StartDate:          *d.StartDate,
			CurrentShiftIndex:  d.CurrentShiftIndex,
			HolidayCalendarIDs: d.HolidayCalendarIDs,
			HolidayHandling:    d.HolidayHandling,
		}, nil

	default:
		return nil, fmt.Errorf("%w: criteria type %q", ErrUnknownVariant, env.Type)
	}
}

// EncodeAction writes a as a tagged envelope
func EncodeAction(a model.Action) ([]byte, error) {
	var payload any
	switch v := a.(type) {
	case model.SkipNextAlarm:
		payload = struct{}{}
	case model.AdjustAlarmTime:
		payload = adjustData{NewTime: &v.NewTime}
	case nil:
		return nil, fmt.Errorf("%w: nil action", ErrUnknownVariant)
	default:
		return nil, fmt.Errorf("%w: action %T", ErrUnknownVariant, a)
	}
	return encode(string(a.Kind()), payload)
}

// DecodeAction reads a tagged envelope written by EncodeAction
func DecodeAction(data []byte) (model.Action, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch model.ActionKind(env.Type) {
	case model.ActionSkipNextAlarm:
		if err := decodeEmpty(env); err != nil {
			return nil, err
		}
		return model.SkipNextAlarm{}, nil

	case model.ActionAdjustAlarmTime:
		var d adjustData
		if err := decodePayload(env, &d); err != nil {
			return nil, err
		}
		if d.NewTime == nil {
			return nil, fmt.Errorf("%w: %s requires newTime", ErrMalformedEnvelope, env.Type)
		}
		return model.AdjustAlarmTime{NewTime: *d.NewTime}, nil

	default:
		return nil, fmt.Errorf("%w: action type %q", ErrUnknownVariant, env.Type)
	}
}

func encode(tag string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", tag, err)
	}
	return json.Marshal(Envelope{Type: tag, Data: data})
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// decodePayload rejects fields that do not belong to the tagged variant
func decodePayload(env Envelope, v any) error {
	if isAbsent(env.Data) {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEnvelope, env.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, env.Type, err)
	}
	return nil
}

// decodeEmpty accepts an absent, null or empty-object payload
func decodeEmpty(env Envelope) error {
	if isAbsent(env.Data) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &fields); err != nil || len(fields) > 0 {
		return fmt.Errorf("%w: %s takes no data", ErrMalformedEnvelope, env.Type)
	}
	return nil
}

func isAbsent(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
