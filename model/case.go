package model

import (
	"time"
)

// CaseStatus is the lifecycle of a case.
type CaseStatus string

const (
	CaseStatusPending   CaseStatus = "pending"
	CaseStatusConfirmed CaseStatus = "confirmed"
	CaseStatusCompleted CaseStatus = "completed"
)

// Case is the merged, business-level target record that multiple source
// documents may update. Identified by its human-entered case number; the
// number's uniqueness is a documented assumption about the input data, not a
// guarantee — two real-world cases sharing a mistyped number will merge.
type Case struct {
	CaseID         string     `json:"case_id"`
	CaseNumber     string     `json:"case_number"`
	PatientName    string     `json:"patient_name"`
	ExamType       string     `json:"exam_type"`
	ExamDate       string     `json:"exam_date,omitempty"`     // YYYY-MM-DD
	ExamTime       string     `json:"exam_time,omitempty"`     // HH:MM
	ExamLocation   string     `json:"exam_location,omitempty"`
	ReferringParty string     `json:"referring_party,omitempty"`
	ReferringEmail string     `json:"referring_email,omitempty"`
	ReportDueDate  string     `json:"report_due_date,omitempty"` // YYYY-MM-DD
	Status         CaseStatus `json:"status"`
	Confidence     float64    `json:"confidence"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AppendNote appends a timestamped line to the case's audit notes.
func (c *Case) AppendNote(note string) {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if c.Notes == "" {
		c.Notes = "[" + stamp + "] " + note
		return
	}
	c.Notes += "\n[" + stamp + "] " + note
}
