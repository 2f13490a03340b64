package models

import (
	"strings"
	"time"

	labmodels "labtrail/internal/laborders/models"
	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "status must be one of pending, completed, cancelled")
}

// Result is a lab's report for one lab order. ClinicianID and PatientID are
// copied from the order at creation so ownership checks need no join.
type Result struct {
	ID              domain.ResultID   `json:"id"`
	LabOrderID      domain.LabOrderID `json:"lab_order_id"`
	LabID           domain.UserID     `json:"lab_id"`
	ClinicianID     domain.UserID     `json:"clinician_id"`
	PatientID       domain.UserID     `json:"patient_id"`
	ResultText      string            `json:"result_text"`
	Comments        string            `json:"comments,omitempty"`
	Findings        string            `json:"findings,omitempty"`
	Recommendations string            `json:"recommendations,omitempty"`
	Attachments     []string          `json:"attachments"`
	Status          Status            `json:"status"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Owner implements ownership.Owned.
func (r *Result) Owner(f ownership.Field) (domain.UserID, bool) {
	switch f {
	case ownership.FieldClinician:
		return r.ClinicianID, true
	case ownership.FieldLab:
		return r.LabID, true
	case ownership.FieldPatient:
		return r.PatientID, true
	}
	return domain.UserID{}, false
}

// Submission is a lab's report for an order.
type Submission struct {
	LabOrderID      domain.LabOrderID
	ResultText      string
	Comments        string
	Findings        string
	Recommendations string
	Attachments     []string
}

func (s Submission) Validate() error {
	if s.LabOrderID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "lab_order_id is required")
	}
	if strings.TrimSpace(s.ResultText) == "" {
		return dErrors.New(dErrors.CodeValidation, "result_text is required")
	}
	return nil
}

// NewResult builds a completed result for order. The caller completes the
// order in the same unit of work.
func NewResult(id domain.ResultID, order *labmodels.LabOrder, lab domain.UserID, s Submission, now time.Time) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Result{
		ID:              id,
		LabOrderID:      order.ID,
		LabID:           lab,
		ClinicianID:     order.ClinicianID,
		PatientID:       order.PatientID,
		ResultText:      strings.TrimSpace(s.ResultText),
		Comments:        strings.TrimSpace(s.Comments),
		Findings:        strings.TrimSpace(s.Findings),
		Recommendations: strings.TrimSpace(s.Recommendations),
		Attachments:     attachments(s.Attachments),
		Status:          StatusCompleted,
		CompletedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func attachments(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Changes is a partial update by the authoring lab.
type Changes struct {
	ResultText      *string
	Comments        *string
	Findings        *string
	Recommendations *string
	Attachments     *[]string
	Status          *string
}

// Apply mutates r only when every field is acceptable. A result can be
// withdrawn (cancelled) but never reopened, so the parent order stays terminal.
func (r *Result) Apply(c Changes, now time.Time) error {
	if r.Status == StatusCancelled {
		return dErrors.New(dErrors.CodeConflict, "result is cancelled and cannot be changed")
	}
	next := *r
	if c.ResultText != nil {
		text := strings.TrimSpace(*c.ResultText)
		if text == "" {
			return dErrors.New(dErrors.CodeValidation, "result_text must not be empty")
		}
		next.ResultText = text
	}
	if c.Comments != nil {
		next.Comments = strings.TrimSpace(*c.Comments)
	}
	if c.Findings != nil {
		next.Findings = strings.TrimSpace(*c.Findings)
	}
	if c.Recommendations != nil {
		next.Recommendations = strings.TrimSpace(*c.Recommendations)
	}
	if c.Attachments != nil {
		next.Attachments = attachments(*c.Attachments)
	}
	if c.Status != nil {
		st, err := ParseStatus(*c.Status)
		if err != nil {
			return err
		}
		if st != next.Status && st != StatusCancelled {
			return dErrors.New(dErrors.CodeConflict, "a completed result can only be cancelled")
		}
		next.Status = st
	}
	next.UpdatedAt = now
	*r = next
	return nil
}

// Query selects results. Scope is always applied.
type Query struct {
	Scope    ownership.Scope
	Statuses []Status
}

func (q Query) Matches(r *Result) bool {
	if !q.Scope.Matches(r) {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, st := range q.Statuses {
		if r.Status == st {
			return true
		}
	}
	return false
}
