package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "MONDAY",
	time.Tuesday:   "TUESDAY",
	time.Wednesday: "WEDNESDAY",
	time.Thursday:  "THURSDAY",
	time.Friday:    "FRIDAY",
	time.Saturday:  "SATURDAY",
	time.Sunday:    "SUNDAY",
}

// EncodeUUIDSet writes ids as a JSON array of strings
func EncodeUUIDSet(ids []uuid.UUID) (string, error) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode id set: %w", err)
	}
	return string(data), nil
}

// DecodeUUIDSet reads a set written by EncodeUUIDSet. An empty column decodes to nil.
func DecodeUUIDSet(s string) ([]uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode id set: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// EncodeInt64Set writes ids as a JSON array of numbers
func EncodeInt64Set(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode id set: %w", err)
	}
	return string(data), nil
}

// DecodeInt64Set reads a set written by EncodeInt64Set
func DecodeInt64Set(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode id set: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// EncodeWeekdays writes days as a JSON array of upper-case day names
func EncodeWeekdays(days []time.Weekday) (string, error) {
	names := make([]string, 0, len(days))
	for _, d := range days {
		name, ok := weekdayNames[d]
		if !ok {
			return "", fmt.Errorf("invalid weekday %d", d)
		}
		names = append(names, name)
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("failed to encode weekdays: %w", err)
	}
	return string(data), nil
}

// DecodeWeekdays reads a set written by EncodeWeekdays
func DecodeWeekdays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, fmt.Errorf("failed to decode weekdays: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}

// ParseWeekday accepts full English day names in any case
func ParseWeekday(name string) (time.Weekday, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for day, n := range weekdayNames {
		if n == upper {
			return day, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", name)
}
