package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordStatus is the processing state of an ingestion record.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusProcessed  RecordStatus = "processed"
	RecordStatusFailed     RecordStatus = "failed"
)

// ParseRecordStatus converts a stored value back into a RecordStatus.
func ParseRecordStatus(s string) (RecordStatus, error) {
	switch RecordStatus(s) {
	case RecordStatusPending, RecordStatusProcessing, RecordStatusProcessed, RecordStatusFailed:
		return RecordStatus(s), nil
	}
	return "", fmt.Errorf("unknown record status %q", s)
}

// IngestionRecord is the durable row tracking the processing outcome of one
// source document. Its (subject, sender, received_at) tuple is unique, which
// makes re-running the pipeline for the same document idempotent.
//
// PayloadSnapshot holds the full original input, binary attachment content
// included, and is retained only while the record is failed so a later replay
// is byte-identical to the original attempt. It is cleared on success.
type IngestionRecord struct {
	RecordID        string          `json:"record_id"`
	CaseID          string          `json:"case_id,omitempty"`
	Subject         string          `json:"subject"`
	Sender          string          `json:"sender"`
	Recipients      []string        `json:"recipients"`
	Body            string          `json:"body"`
	ReceivedAt      time.Time       `json:"received_at"`
	Status          RecordStatus    `json:"status"`
	RawExtraction   json.RawMessage `json:"raw_extraction,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	PayloadSnapshot []byte          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     time.Time       `json:"processed_at,omitempty"`
}

// AttachmentCategory is the closed set of categories the extraction step
// assigns to attachments.
type AttachmentCategory string

const (
	CategoryMedicalRecords AttachmentCategory = "medical_records"
	CategoryDeclaration    AttachmentCategory = "declaration"
	CategoryCoverLetter    AttachmentCategory = "cover_letter"
	CategoryOther          AttachmentCategory = "other"
)

// ParseAttachmentCategory converts a raw extraction value into a category,
// falling back to CategoryOther for anything the model invents.
func ParseAttachmentCategory(s string) AttachmentCategory {
	switch AttachmentCategory(s) {
	case CategoryMedicalRecords, CategoryDeclaration, CategoryCoverLetter, CategoryOther:
		return AttachmentCategory(s)
	}
	return CategoryOther
}

// Attachment is a categorized source-document attachment, linked to both the
// ingestion record it arrived on and the case it belongs to. Unique per
// (record, filename) so retried ingestion never duplicates rows.
type Attachment struct {
	AttachmentID   string             `json:"attachment_id"`
	RecordID       string             `json:"record_id"`
	CaseID         string             `json:"case_id,omitempty"`
	Filename       string             `json:"filename"`
	ContentType    string             `json:"content_type,omitempty"`
	ContentPreview string             `json:"content_preview,omitempty"`
	Category       AttachmentCategory `json:"category"`
	CategoryReason string             `json:"category_reason,omitempty"`
	StorageRef     string             `json:"storage_ref,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}
