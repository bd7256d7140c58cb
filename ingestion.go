/*
Copyright 2025 Intake Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/internal/notification"
	"github.com/intakehq/intake/model"
)

// previewLength bounds the attachment text preview persisted with each
// attachment row.
const previewLength = 500

// IngestionResult is the terminal outcome of one pipeline run.
type IngestionResult struct {
	Record *model.IngestionRecord `json:"record"`
	Case   *model.Case            `json:"case,omitempty"`
}

// Ingest runs the idempotent ingestion pipeline for a document. It is safe to
// call any number of times for the same document: an already-processed record
// short-circuits, an in-flight record is left to its owner, a failed record
// is reused for the new attempt.
//
// Extraction errors are retryable and propagate to the worker loop after the
// record is safely marked failed with its payload snapshot; the retry
// decision itself belongs to the queue, never to this function.
func (i *Intake) Ingest(ctx context.Context, document model.SourceDocument) (*IngestionResult, error) {
	ctx, span := tracer.Start(ctx, "Ingesting Document")
	defer span.End()

	if err := document.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid document", err)
	}

	rec, done, err := i.findOrCreateRecord(ctx, &document)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}

	extraction, err := i.extractor.Extract(ctx, &document)
	if err != nil {
		// Already retryable; persist the failure and re-raise unmodified.
		return nil, i.failRecord(ctx, rec, &document, err)
	}
	if err := extraction.Validate(); err != nil {
		// The model may produce a complete extraction on a later attempt.
		return nil, i.failRecord(ctx, rec, &document, Retryable(err))
	}

	targetCase, err := i.MergeExtraction(ctx, extraction)
	if err != nil {
		return nil, i.failRecord(ctx, rec, &document, err)
	}

	if err := i.persistAttachments(ctx, rec, targetCase, &document, extraction); err != nil {
		return nil, i.failRecord(ctx, rec, &document, err)
	}

	rawExtraction, err := extraction.ToJSON()
	if err != nil {
		return nil, i.failRecord(ctx, rec, &document, err)
	}
	if err := i.datasource.MarkRecordProcessed(ctx, rec.RecordID, targetCase.CaseID, rawExtraction); err != nil {
		return nil, i.failRecord(ctx, rec, &document, err)
	}

	rec.Status = model.RecordStatusProcessed
	rec.CaseID = targetCase.CaseID
	rec.RawExtraction = rawExtraction
	rec.PayloadSnapshot = nil
	rec.ErrorMessage = ""

	i.notifyRecordEvent(ctx, "record.processed", rec, "")
	return &IngestionResult{Record: rec, Case: targetCase}, nil
}

// findOrCreateRecord resolves the ingestion record for a document. The second
// return value is non-nil when the pipeline should short-circuit without any
// further work.
func (i *Intake) findOrCreateRecord(ctx context.Context, document *model.SourceDocument) (*model.IngestionRecord, *IngestionResult, error) {
	receivedAt := document.ReceivedAt.UTC().Truncate(time.Second)

	rec, err := i.datasource.GetRecordByDocument(ctx, document.Subject, document.Sender, receivedAt)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); !ok || apiErr.Code != apierror.ErrNotFound {
			return nil, nil, err
		}
		rec = nil
	}

	if rec != nil {
		switch rec.Status {
		case model.RecordStatusProcessed:
			// True idempotence: no re-work, no re-merge.
			result := &IngestionResult{Record: rec}
			if rec.CaseID != "" {
				if c, err := i.datasource.GetCase(ctx, rec.CaseID); err == nil {
					result.Case = c
				}
			}
			return nil, result, nil
		case model.RecordStatusProcessing:
			// A concurrent duplicate dispatch; the in-flight attempt owns
			// completion.
			return nil, &IngestionResult{Record: rec}, nil
		case model.RecordStatusFailed, model.RecordStatusPending:
			if err := i.datasource.UpdateRecordStatus(ctx, rec.RecordID, model.RecordStatusProcessing); err != nil {
				return nil, nil, err
			}
			rec.Status = model.RecordStatusProcessing
			rec.ErrorMessage = ""
			return rec, nil, nil
		}
	}

	rec = &model.IngestionRecord{
		Subject:    document.Subject,
		Sender:     document.Sender,
		Recipients: document.Recipients,
		Body:       document.Body,
		ReceivedAt: receivedAt,
		Status:     model.RecordStatusProcessing,
	}
	created, err := i.datasource.CreateRecord(ctx, rec)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			// Lost a creation race; the winner owns this document.
			existing, lookupErr := i.datasource.GetRecordByDocument(ctx, document.Subject, document.Sender, receivedAt)
			if lookupErr == nil {
				return nil, &IngestionResult{Record: existing}, nil
			}
		}
		return nil, nil, err
	}
	return created, nil, nil
}

// persistAttachments creates one attachment row per categorized attachment,
// skipping rows that already exist from an earlier attempt. Blob upload is
// best-effort: a storage failure leaves the row without a storage ref but
// never fails the pipeline.
func (i *Intake) persistAttachments(ctx context.Context, rec *model.IngestionRecord, targetCase *model.Case, document *model.SourceDocument, extraction *model.CaseExtraction) error {
	categorized := make(map[string]model.AttachmentExtraction, len(extraction.Attachments))
	for _, ae := range extraction.Attachments {
		categorized[ae.Filename] = ae
	}

	for _, att := range document.Attachments {
		a := &model.Attachment{
			RecordID:    rec.RecordID,
			CaseID:      targetCase.CaseID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Category:    model.CategoryOther,
		}
		if ae, ok := categorized[att.Filename]; ok {
			a.Category = model.ParseAttachmentCategory(ae.Category)
			a.CategoryReason = ae.CategoryReason
		}
		if att.TextContent != "" {
			preview := att.TextContent
			if len(preview) > previewLength {
				preview = preview[:previewLength]
			}
			a.ContentPreview = preview
		}

		if i.blobs != nil && len(att.BinaryContent) > 0 {
			key := fmt.Sprintf("%s/%s", rec.RecordID, att.Filename)
			ref, err := i.blobs.Put(ctx, key, att.ContentType, att.BinaryContent)
			if err != nil {
				logrus.Warnf("attachment upload failed for %s: %v", key, err)
			} else {
				a.StorageRef = ref
			}
		}

		if _, err := i.datasource.CreateAttachment(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// failRecord marks the record failed with the full original payload snapshot
// so a later replay is byte-identical to this attempt, then returns the cause
// for the worker loop to act on.
func (i *Intake) failRecord(ctx context.Context, rec *model.IngestionRecord, document *model.SourceDocument, cause error) error {
	snapshot, err := document.ToJSON()
	if err != nil {
		logrus.Errorf("failed to snapshot payload for record %s: %v", rec.RecordID, err)
		snapshot = nil
	}
	if err := i.datasource.MarkRecordFailed(ctx, rec.RecordID, cause.Error(), snapshot); err != nil {
		logrus.Errorf("failed to mark record %s failed: %v", rec.RecordID, err)
	}
	notification.NotifyError(errors.Wrapf(cause, "ingestion failed for record %s", rec.RecordID))
	i.notifyRecordEvent(ctx, "record.failed", rec, cause.Error())
	return cause
}

// RetryRecord replays a failed record from its retained payload snapshot.
func (i *Intake) RetryRecord(ctx context.Context, recordID string) (*IngestionResult, error) {
	rec, err := i.datasource.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.RecordStatusFailed {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Only failed records can be retried", fmt.Errorf("record %s is %s", recordID, rec.Status))
	}
	if len(rec.PayloadSnapshot) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Record has no payload snapshot to replay", nil)
	}

	var document model.SourceDocument
	if err := json.Unmarshal(rec.PayloadSnapshot, &document); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode payload snapshot", err)
	}
	return i.Ingest(ctx, document)
}

// RetryAllFailed replays every failed record. Individual failures are
// collected, not fatal; the returned count is how many replays succeeded.
func (i *Intake) RetryAllFailed(ctx context.Context) (int, []error) {
	records, err := i.datasource.GetFailedRecords(ctx)
	if err != nil {
		return 0, []error{err}
	}

	succeeded := 0
	var failures []error
	for _, rec := range records {
		if _, err := i.RetryRecord(ctx, rec.RecordID); err != nil {
			failures = append(failures, errors.Wrapf(err, "record %s", rec.RecordID))
			continue
		}
		succeeded++
	}
	return succeeded, failures
}
