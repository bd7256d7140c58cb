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

	"github.com/intakehq/intake/model"
)

// GetRecord fetches an ingestion record by its id.
func (i *Intake) GetRecord(ctx context.Context, recordID string) (*model.IngestionRecord, error) {
	return i.datasource.GetRecord(ctx, recordID)
}

// GetAllRecords lists ingestion records, newest first.
func (i *Intake) GetAllRecords(ctx context.Context, limit, offset int) ([]*model.IngestionRecord, error) {
	return i.datasource.GetAllRecords(ctx, limit, offset)
}

// GetRecordsByCase lists the ingestion records that contributed to a case.
func (i *Intake) GetRecordsByCase(ctx context.Context, caseID string) ([]*model.IngestionRecord, error) {
	return i.datasource.GetRecordsByCase(ctx, caseID)
}

// GetCase fetches a case by its id.
func (i *Intake) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	return i.datasource.GetCase(ctx, caseID)
}

// GetCaseByNumber fetches a case by its business case number.
func (i *Intake) GetCaseByNumber(ctx context.Context, caseNumber string) (*model.Case, error) {
	return i.datasource.GetCaseByNumber(ctx, caseNumber)
}

// GetAllCases lists cases, optionally filtered by status.
func (i *Intake) GetAllCases(ctx context.Context, status string, limit, offset int) ([]*model.Case, error) {
	return i.datasource.GetAllCases(ctx, status, limit, offset)
}

// GetAttachmentsByCase lists the categorized attachments filed under a case.
func (i *Intake) GetAttachmentsByCase(ctx context.Context, caseID string) ([]*model.Attachment, error) {
	return i.datasource.GetAttachmentsByCase(ctx, caseID)
}

// GetAttachmentsByRecord lists the attachments that arrived on one record.
func (i *Intake) GetAttachmentsByRecord(ctx context.Context, recordID string) ([]*model.Attachment, error) {
	return i.datasource.GetAttachmentsByRecord(ctx, recordID)
}
