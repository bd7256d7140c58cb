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

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/intakehq/intake/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	record     // Interface for ingestion-record operations
	cases      // Interface for case operations
	attachment // Interface for attachment operations
}

// record defines methods for handling ingestion records.
type record interface {
	CreateRecord(ctx context.Context, rec *model.IngestionRecord) (*model.IngestionRecord, error)        // Inserts a new ingestion record
	GetRecord(ctx context.Context, id string) (*model.IngestionRecord, error)                            // Retrieves a record by ID
	GetRecordByDocument(ctx context.Context, subject, sender string, receivedAt time.Time) (*model.IngestionRecord, error) // Retrieves a record by its document tuple
	UpdateRecordStatus(ctx context.Context, id string, status model.RecordStatus) error                  // Updates the processing status of a record
	MarkRecordProcessed(ctx context.Context, id string, caseID string, rawExtraction []byte) error       // Marks a record processed, links its case and clears the payload snapshot
	MarkRecordFailed(ctx context.Context, id string, errMsg string, snapshot []byte) error               // Marks a record failed and retains the payload snapshot
	GetFailedRecords(ctx context.Context) ([]*model.IngestionRecord, error)                              // Retrieves all failed records (snapshots included)
	GetAllRecords(ctx context.Context, limit, offset int) ([]*model.IngestionRecord, error)              // Retrieves records in reverse creation order
	GetRecordsByCase(ctx context.Context, caseID string) ([]*model.IngestionRecord, error)               // Retrieves records linked to a case
}

// cases defines methods for handling cases.
type cases interface {
	CreateCase(ctx context.Context, c *model.Case) (*model.Case, error)                       // Inserts a new case
	GetCase(ctx context.Context, id string) (*model.Case, error)                              // Retrieves a case by ID
	GetCaseByNumber(ctx context.Context, caseNumber string) (*model.Case, error)              // Retrieves a case by its case number
	GetCaseForUpdate(ctx context.Context, tx *sql.Tx, caseNumber string) (*model.Case, error) // Retrieves and row-locks a case inside a transaction
	UpdateCase(ctx context.Context, tx *sql.Tx, c *model.Case) error                          // Updates a case inside a transaction
	GetAllCases(ctx context.Context, status string, limit, offset int) ([]*model.Case, error) // Retrieves cases, optionally filtered by status
	BeginTx(ctx context.Context) (*sql.Tx, error)                                             // Opens a database transaction
}

// attachment defines methods for handling attachments.
type attachment interface {
	CreateAttachment(ctx context.Context, a *model.Attachment) (*model.Attachment, error)     // Inserts an attachment, no-op when (record, filename) already exists
	GetAttachmentsByRecord(ctx context.Context, recordID string) ([]*model.Attachment, error) // Retrieves attachments for a record
	GetAttachmentsByCase(ctx context.Context, caseID string) ([]*model.Attachment, error)     // Retrieves attachments for a case
}
