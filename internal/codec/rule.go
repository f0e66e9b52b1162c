package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/alarm-rules/internal/model"
)

// RuleDocument is the JSON form of a rule used for export and CLI output
type RuleDocument struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Enabled        bool            `json:"enabled"`
	TargetAlarmIDs []uuid.UUID     `json:"targetAlarmIds"`
	CalendarIDs    []int64         `json:"calendarIds"`
	Criteria       json.RawMessage `json:"criteria"`
	Action         json.RawMessage `json:"action"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// MarshalRule encodes a rule with its criteria and action in envelope form
func MarshalRule(r *model.Rule) ([]byte, error) {
	doc, err := ToDocument(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// UnmarshalRule decodes a rule written by MarshalRule
func UnmarshalRule(data []byte) (*model.Rule, error) {
	var doc RuleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return FromDocument(&doc)
}

// ToDocument converts a rule to its document form
func ToDocument(r *model.Rule) (*RuleDocument, error) {
	criteria, err := EncodeCriteria(r.Criteria)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	action, err := EncodeAction(r.Action)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return &RuleDocument{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Enabled:        r.Enabled,
		TargetAlarmIDs: r.TargetAlarmIDs,
		CalendarIDs:    r.CalendarIDs,
		Criteria:       criteria,
		Action:         action,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// FromDocument converts a document back to a rule
func FromDocument(doc *RuleDocument) (*model.Rule, error) {
	criteria, err := DecodeCriteria(doc.Criteria)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", doc.ID, err)
	}
	action, err := DecodeAction(doc.Action)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", doc.ID, err)
	}
	return &model.Rule{
		ID:             doc.ID,
		Name:           doc.Name,
		Description:    doc.Description,
		Enabled:        doc.Enabled,
		TargetAlarmIDs: doc.TargetAlarmIDs,
		CalendarIDs:    doc.CalendarIDs,
		Criteria:       criteria,
		Action:         action,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}
