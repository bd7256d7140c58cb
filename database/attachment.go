package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

const attachmentColumns = `attachment_id, record_id, case_id, filename, content_type, category, category_reason, content_preview, storage_ref, created_at`

// CreateAttachment inserts an attachment row. A retried ingestion run hitting
// the same (record, filename) pair is a silent no-op.
func (d Datasource) CreateAttachment(ctx context.Context, a *model.Attachment) (*model.Attachment, error) {
	if a.AttachmentID == "" {
		a.AttachmentID = model.GenerateUUIDWithSuffix("att")
	}
	if a.Category == "" {
		a.Category = model.CategoryOther
	}
	a.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.attachments (attachment_id, record_id, case_id, filename, content_type, category, category_reason, content_preview, storage_ref)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (record_id, filename) DO NOTHING
	`, a.AttachmentID, a.RecordID, a.CaseID, a.Filename, a.ContentType, a.Category, a.CategoryReason, a.ContentPreview, a.StorageRef)

	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create attachment", err)
	}

	return a, nil
}

func (d Datasource) GetAttachmentsByRecord(ctx context.Context, recordID string) ([]*model.Attachment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM intake.attachments
		WHERE record_id = $1
		ORDER BY created_at ASC
	`, recordID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve attachments", err)
	}
	defer rows.Close()

	return collectAttachments(rows)
}

func (d Datasource) GetAttachmentsByCase(ctx context.Context, caseID string) ([]*model.Attachment, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM intake.attachments
		WHERE case_id = $1
		ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve attachments", err)
	}
	defer rows.Close()

	return collectAttachments(rows)
}

func collectAttachments(rows *sql.Rows) ([]*model.Attachment, error) {
	attachments := []*model.Attachment{}
	for rows.Next() {
		a := model.Attachment{}
		var caseID, contentType, categoryReason, preview, storageRef sql.NullString
		var category string

		err := rows.Scan(&a.AttachmentID, &a.RecordID, &caseID, &a.Filename, &contentType,
			&category, &categoryReason, &preview, &storageRef, &a.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan attachment data", err)
		}

		a.CaseID = caseID.String
		a.ContentType = contentType.String
		a.Category = model.ParseAttachmentCategory(category)
		a.CategoryReason = categoryReason.String
		a.ContentPreview = preview.String
		a.StorageRef = storageRef.String

		attachments = append(attachments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over attachments", err)
	}
	return attachments, nil
}
