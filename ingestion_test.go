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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/intake/model"
)

func TestIngestHappyPath(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)

	doc := NewMockDocument()
	result, err := i.Ingest(ctx, doc)
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	require.NotNil(t, result.Case)

	assert.Equal(t, model.RecordStatusProcessed, result.Record.Status)
	assert.Equal(t, result.Case.CaseID, result.Record.CaseID)
	assert.Equal(t, "NF-10001", result.Case.CaseNumber)
	assert.Equal(t, model.CaseStatusPending, result.Case.Status)
	assert.NotEmpty(t, result.Record.RawExtraction)
	assert.Empty(t, result.Record.PayloadSnapshot)

	attachments, err := ds.GetAttachmentsByRecord(ctx, result.Record.RecordID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, model.CategoryMedicalRecords, attachments[0].Category)
	assert.Equal(t, "medical_records.pdf", attachments[0].Filename)
	assert.NotEmpty(t, attachments[0].ContentPreview)
}

// Running the pipeline twice for the same document must not re-extract,
// re-merge or duplicate any row.
func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)
	extractor := i.extractor.(*scriptedExtractor)

	doc := NewMockDocument()
	first, err := i.Ingest(ctx, doc)
	require.NoError(t, err)

	second, err := i.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, first.Record.RecordID, second.Record.RecordID)
	assert.Equal(t, first.Case.CaseID, second.Case.CaseID)

	// One extraction call total; the second run short-circuited.
	assert.Equal(t, 1, extractor.callCount())

	records, err := ds.GetAllRecords(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	attachments, err := ds.GetAttachmentsByRecord(ctx, first.Record.RecordID)
	require.NoError(t, err)
	assert.Len(t, attachments, 1)
}

// A record in processing state belongs to the attempt that set it; a
// concurrent duplicate returns without doing any work.
func TestIngestSkipsInFlightRecord(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)
	extractor := i.extractor.(*scriptedExtractor)

	doc := NewMockDocument()
	rec, err := ds.CreateRecord(ctx, &model.IngestionRecord{
		Subject:    doc.Subject,
		Sender:     doc.Sender,
		Body:       doc.Body,
		ReceivedAt: doc.ReceivedAt.UTC().Truncate(time.Second),
		Status:     model.RecordStatusProcessing,
	})
	require.NoError(t, err)

	result, err := i.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, rec.RecordID, result.Record.RecordID)
	assert.Nil(t, result.Case)
	assert.Equal(t, 0, extractor.callCount())
}

func TestIngestFailureRetainsSnapshot(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)
	i.extractor = &scriptedExtractor{failFirst: 100}

	doc := NewMockDocument()
	_, err := i.Ingest(ctx, doc)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	failed, err := ds.GetFailedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "scripted extraction failure")

	// The snapshot replays to the byte.
	var replay model.SourceDocument
	require.NoError(t, json.Unmarshal(failed[0].PayloadSnapshot, &replay))
	original, err := doc.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(original), string(failed[0].PayloadSnapshot))
	assert.Equal(t, doc.Subject, replay.Subject)
}

// An incomplete extraction is retried rather than failed permanently; the
// model may produce the missing fields on a later attempt.
func TestIngestIncompleteExtractionIsRetryable(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)
	incomplete := NewMockExtraction("", 0.8)
	i.extractor = &scriptedExtractor{extraction: incomplete}

	_, err := i.Ingest(ctx, NewMockDocument())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestRetryRecordReplaysSnapshot(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)
	i.extractor = &scriptedExtractor{
		extraction: NewMockExtraction("NF-20001", 0.9),
		failFirst:  1,
	}

	doc := NewMockDocument()
	_, err := i.Ingest(ctx, doc)
	require.Error(t, err)

	failed, err := ds.GetFailedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	result, err := i.RetryRecord(ctx, failed[0].RecordID)
	require.NoError(t, err)
	assert.Equal(t, failed[0].RecordID, result.Record.RecordID)
	assert.Equal(t, model.RecordStatusProcessed, result.Record.Status)
	assert.Equal(t, "NF-20001", result.Case.CaseNumber)

	// Snapshot and error are cleared on success.
	stored, err := ds.GetRecord(ctx, failed[0].RecordID)
	require.NoError(t, err)
	assert.Empty(t, stored.PayloadSnapshot)
	assert.Empty(t, stored.ErrorMessage)
}

func TestRetryRecordRejectsProcessed(t *testing.T) {
	ctx := context.Background()
	i, _, _ := newTestIntake(t)

	result, err := i.Ingest(ctx, NewMockDocument())
	require.NoError(t, err)

	_, err = i.RetryRecord(ctx, result.Record.RecordID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only failed records can be retried")
}

func TestRetryAllFailed(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)
	i.extractor = &scriptedExtractor{
		extraction: NewMockExtraction("NF-30001", 0.7),
		failFirst:  2,
	}

	_, err := i.Ingest(ctx, NewMockDocument())
	require.Error(t, err)
	_, err = i.Ingest(ctx, NewMockDocument())
	require.Error(t, err)

	succeeded, failures := i.RetryAllFailed(ctx)
	assert.Equal(t, 2, succeeded)
	assert.Empty(t, failures)

	failed, err := ds.GetFailedRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

// Blob storage failures must never fail the pipeline; the attachment row is
// kept without a storage ref.
func TestIngestSurvivesBlobStoreFailure(t *testing.T) {
	ctx := context.Background()
	i, ds, _ := newTestIntake(t)
	i.blobs = failingBlobStore{}

	doc := NewMockDocument()
	doc.Attachments[0].BinaryContent = []byte("%PDF-1.7 fake")

	result, err := i.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusProcessed, result.Record.Status)

	attachments, err := ds.GetAttachmentsByRecord(ctx, result.Record.RecordID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Empty(t, attachments[0].StorageRef)
}

type failingBlobStore struct{}

func (failingBlobStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "", assert.AnError
}
