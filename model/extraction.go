package model

import (
	"encoding/json"
	"fmt"
)

// AttachmentExtraction is the categorization the inference service returns
// for a single attachment.
type AttachmentExtraction struct {
	Filename       string `json:"filename"`
	Category       string `json:"category"`
	CategoryReason string `json:"category_reason,omitempty"`
}

// CaseExtraction is the structured output of the inference service for one
// source document. Date and time fields stay strings in the wire formats the
// service is prompted for (YYYY-MM-DD, HH:MM); unparseable values are
// ignored by the merge resolver rather than failing the pipeline.
type CaseExtraction struct {
	PatientName     string                 `json:"patient_name"`
	CaseNumber      string                 `json:"case_number"`
	ExamType        string                 `json:"exam_type"`
	ExamDate        string                 `json:"exam_date,omitempty"`
	ExamTime        string                 `json:"exam_time,omitempty"`
	ExamLocation    string                 `json:"exam_location,omitempty"`
	ReferringParty  string                 `json:"referring_party,omitempty"`
	ReferringEmail  string                 `json:"referring_email,omitempty"`
	ReportDueDate   string                 `json:"report_due_date,omitempty"`
	Confidence      float64                `json:"confidence"`
	ExtractionNotes string                 `json:"extraction_notes,omitempty"`
	EmailIntent     string                 `json:"email_intent,omitempty"`
	Attachments     []AttachmentExtraction `json:"attachments,omitempty"`
}

// Validate rejects extraction payloads missing the fields a case cannot be
// created without, or carrying an out-of-range confidence.
func (e *CaseExtraction) Validate() error {
	if e.CaseNumber == "" {
		return fmt.Errorf("extraction missing case_number")
	}
	if e.PatientName == "" {
		return fmt.Errorf("extraction missing patient_name")
	}
	if e.ExamType == "" {
		return fmt.Errorf("extraction missing exam_type")
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return fmt.Errorf("extraction confidence %v out of range [0,1]", e.Confidence)
	}
	return nil
}

// ToJSON serializes the extraction for storage on the ingestion record.
func (e *CaseExtraction) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
