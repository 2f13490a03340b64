package models

import (
	"strings"
	"time"

	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

// Status is the lifecycle state of a lab order.
//
// pending -> in_review on assignment; in_review -> completed when a result is
// posted. Clinicians may cancel an open order or put an assigned one back on
// hold (pending). completed and cancelled accept no further changes.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusInReview, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "status must be one of pending, in_review, completed, cancelled")
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type TestType string

const (
	TestBlood      TestType = "blood_test"
	TestUrine      TestType = "urine_test"
	TestXRay       TestType = "x_ray"
	TestMRI        TestType = "mri"
	TestCTScan     TestType = "ct_scan"
	TestUltrasound TestType = "ultrasound"
	TestECG        TestType = "ecg"
	TestOther      TestType = "other"
)

func ParseTestType(s string) (TestType, error) {
	switch tt := TestType(strings.ToLower(strings.TrimSpace(s))); tt {
	case TestBlood, TestUrine, TestXRay, TestMRI, TestCTScan, TestUltrasound, TestECG, TestOther:
		return tt, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "test_type is not a supported test")
}

// LabOrder is a clinician's request for a test on a patient.
//
// PatientID and ClinicianID are fixed at creation. Results copy them, so an
// order's ownership never changes under its result.
type LabOrder struct {
	ID          domain.LabOrderID `json:"id"`
	PatientID   domain.UserID     `json:"patient_id"`
	ClinicianID domain.UserID     `json:"clinician_id"`
	LabID       *domain.UserID    `json:"lab_id,omitempty"`
	TestType    TestType          `json:"test_type"`
	Notes       string            `json:"notes,omitempty"`
	Status      Status            `json:"status"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Owner implements ownership.Owned.
func (o *LabOrder) Owner(f ownership.Field) (domain.UserID, bool) {
	switch f {
	case ownership.FieldClinician:
		return o.ClinicianID, true
	case ownership.FieldPatient:
		return o.PatientID, true
	case ownership.FieldLab:
		if o.LabID == nil {
			return domain.UserID{}, false
		}
		return *o.LabID, true
	}
	return domain.UserID{}, false
}

// AssignedTo reports whether lab is the order's assigned lab.
func (o *LabOrder) AssignedTo(lab domain.UserID) bool {
	return o.LabID != nil && *o.LabID == lab
}

// Draft is the input for a new order.
type Draft struct {
	PatientID   domain.UserID
	TestType    string
	Notes       string
	ScheduledAt *time.Time
}

func NewLabOrder(id domain.LabOrderID, clinician domain.UserID, d Draft, now time.Time) (*LabOrder, error) {
	if d.PatientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "patient_id is required")
	}
	tt, err := ParseTestType(d.TestType)
	if err != nil {
		return nil, err
	}
	return &LabOrder{
		ID:          id,
		PatientID:   d.PatientID,
		ClinicianID: clinician,
		TestType:    tt,
		Notes:       strings.TrimSpace(d.Notes),
		Status:      StatusPending,
		ScheduledAt: d.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Changes is a partial update. Nil fields are left alone.
type Changes struct {
	TestType    *string
	Notes       *string
	Status      *string
	ScheduledAt *time.Time
}

// Apply validates c and mutates o only when every field is acceptable.
func (o *LabOrder) Apply(c Changes, now time.Time) error {
	if o.Status.Terminal() {
		return dErrors.New(dErrors.CodeConflict, "lab order is "+string(o.Status)+" and cannot be changed")
	}
	next := *o
	if c.TestType != nil {
		tt, err := ParseTestType(*c.TestType)
		if err != nil {
			return err
		}
		next.TestType = tt
	}
	if c.Notes != nil {
		next.Notes = strings.TrimSpace(*c.Notes)
	}
	if c.ScheduledAt != nil {
		at := *c.ScheduledAt
		next.ScheduledAt = &at
	}
	if c.Status != nil {
		st, err := ParseStatus(*c.Status)
		if err != nil {
			return err
		}
		if err := next.canMoveTo(st); err != nil {
			return err
		}
		next.Status = st
	}
	next.UpdatedAt = now
	*o = next
	return nil
}

func (o *LabOrder) canMoveTo(st Status) error {
	switch st {
	case o.Status, StatusCancelled:
		return nil
	case StatusCompleted:
		return dErrors.New(dErrors.CodeConflict, "lab order is completed by posting its result")
	case StatusInReview, StatusPending:
		if o.LabID == nil {
			return dErrors.New(dErrors.CodeConflict, "lab order must be assigned to a lab first")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "unsupported status")
}

// Assign hands the order to lab and moves it into review.
func (o *LabOrder) Assign(lab domain.UserID, now time.Time) error {
	if o.Status.Terminal() {
		return dErrors.New(dErrors.CodeConflict, "lab order is "+string(o.Status)+" and cannot be assigned")
	}
	o.LabID = &lab
	o.Status = StatusInReview
	o.UpdatedAt = now
	return nil
}

// Complete marks the order finished. Only an order under review by lab can
// be completed, and only once.
func (o *LabOrder) Complete(lab domain.UserID, now time.Time) error {
	if o.Status == StatusCompleted {
		return dErrors.New(dErrors.CodeConflict, "lab order already has a result")
	}
	if !o.AssignedTo(lab) {
		return dErrors.New(dErrors.CodeForbidden, "lab order is not assigned to this lab")
	}
	if o.Status != StatusInReview {
		return dErrors.New(dErrors.CodeConflict, "lab order is "+string(o.Status)+" and cannot take a result")
	}
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}
