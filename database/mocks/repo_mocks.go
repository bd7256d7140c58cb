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
package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/intakehq/intake/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Ingestion record methods

func (m *MockDataSource) CreateRecord(ctx context.Context, rec *model.IngestionRecord) (*model.IngestionRecord, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(*model.IngestionRecord), args.Error(1)
}

func (m *MockDataSource) GetRecord(ctx context.Context, id string) (*model.IngestionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IngestionRecord), args.Error(1)
}

func (m *MockDataSource) GetRecordByDocument(ctx context.Context, subject, sender string, receivedAt time.Time) (*model.IngestionRecord, error) {
	args := m.Called(ctx, subject, sender, receivedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IngestionRecord), args.Error(1)
}

func (m *MockDataSource) UpdateRecordStatus(ctx context.Context, id string, status model.RecordStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) MarkRecordProcessed(ctx context.Context, id string, caseID string, rawExtraction []byte) error {
	args := m.Called(ctx, id, caseID, rawExtraction)
	return args.Error(0)
}

func (m *MockDataSource) MarkRecordFailed(ctx context.Context, id string, errMsg string, snapshot []byte) error {
	args := m.Called(ctx, id, errMsg, snapshot)
	return args.Error(0)
}

func (m *MockDataSource) GetFailedRecords(ctx context.Context) ([]*model.IngestionRecord, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.IngestionRecord), args.Error(1)
}

func (m *MockDataSource) GetAllRecords(ctx context.Context, limit, offset int) ([]*model.IngestionRecord, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]*model.IngestionRecord), args.Error(1)
}

func (m *MockDataSource) GetRecordsByCase(ctx context.Context, caseID string) ([]*model.IngestionRecord, error) {
	args := m.Called(ctx, caseID)
	return args.Get(0).([]*model.IngestionRecord), args.Error(1)
}

// Case methods

func (m *MockDataSource) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockDataSource) GetCase(ctx context.Context, id string) (*model.Case, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockDataSource) GetCaseByNumber(ctx context.Context, caseNumber string) (*model.Case, error) {
	args := m.Called(ctx, caseNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockDataSource) GetCaseForUpdate(ctx context.Context, tx *sql.Tx, caseNumber string) (*model.Case, error) {
	args := m.Called(ctx, tx, caseNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Case), args.Error(1)
}

func (m *MockDataSource) UpdateCase(ctx context.Context, tx *sql.Tx, c *model.Case) error {
	args := m.Called(ctx, tx, c)
	return args.Error(0)
}

func (m *MockDataSource) GetAllCases(ctx context.Context, status string, limit, offset int) ([]*model.Case, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]*model.Case), args.Error(1)
}

func (m *MockDataSource) BeginTx(ctx context.Context) (*sql.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sql.Tx), args.Error(1)
}

// Attachment methods

func (m *MockDataSource) CreateAttachment(ctx context.Context, a *model.Attachment) (*model.Attachment, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(*model.Attachment), args.Error(1)
}

func (m *MockDataSource) GetAttachmentsByRecord(ctx context.Context, recordID string) ([]*model.Attachment, error) {
	args := m.Called(ctx, recordID)
	return args.Get(0).([]*model.Attachment), args.Error(1)
}

func (m *MockDataSource) GetAttachmentsByCase(ctx context.Context, caseID string) ([]*model.Attachment, error) {
	args := m.Called(ctx, caseID)
	return args.Get(0).([]*model.Attachment), args.Error(1)
}
