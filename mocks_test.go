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
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

// mockDataSource is an in-memory stand-in for the Postgres datasource. It
// enforces the same uniqueness rules the schema does so the idempotence
// paths behave like production.
type mockDataSource struct {
	mu          sync.Mutex
	records     map[string]*model.IngestionRecord
	cases       map[string]*model.Case
	caseNumbers map[string]string
	attachments map[string]*model.Attachment
	staleCases  map[string]*model.Case
	txDBs       []*sql.DB
	seq         int

	createAttachmentErr error
	markProcessedErr    error
}

func newMockDataSource() *mockDataSource {
	return &mockDataSource{
		records:     make(map[string]*model.IngestionRecord),
		cases:       make(map[string]*model.Case),
		caseNumbers: make(map[string]string),
		attachments: make(map[string]*model.Attachment),
		staleCases:  make(map[string]*model.Case),
	}
}

// evictToStale drops the case row while keeping a copy visible to
// GetCaseByNumber, mimicking a read cache that outlives an administrative
// delete of the row.
func (m *mockDataSource) evictToStale(caseNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.caseNumbers[caseNumber]
	if !ok {
		return
	}
	m.staleCases[caseNumber] = m.cases[id]
	delete(m.cases, id)
	delete(m.caseNumbers, caseNumber)
}

// close releases the sqlmock connections handed out by BeginTx.
func (m *mockDataSource) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, db := range m.txDBs {
		_ = db.Close()
	}
	m.txDBs = nil
}

func docKey(subject, sender string, receivedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d", subject, sender, receivedAt.UTC().Unix())
}

func (m *mockDataSource) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%d", prefix, m.seq)
}

func copyRecord(rec *model.IngestionRecord) *model.IngestionRecord {
	cp := *rec
	return &cp
}

func copyCase(c *model.Case) *model.Case {
	cp := *c
	return &cp
}

func (m *mockDataSource) CreateRecord(ctx context.Context, rec *model.IngestionRecord) (*model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if docKey(existing.Subject, existing.Sender, existing.ReceivedAt) == docKey(rec.Subject, rec.Sender, rec.ReceivedAt) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Record with this document already exists", nil)
		}
	}

	cp := copyRecord(rec)
	cp.RecordID = m.nextID("rec")
	cp.CreatedAt = time.Now().UTC()
	if cp.Status == "" {
		cp.Status = model.RecordStatusPending
	}
	m.records[cp.RecordID] = cp
	return copyRecord(cp), nil
}

func (m *mockDataSource) GetRecord(ctx context.Context, id string) (*model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	return copyRecord(rec), nil
}

func (m *mockDataSource) GetRecordByDocument(ctx context.Context, subject, sender string, receivedAt time.Time) (*model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(subject, sender, receivedAt)
	for _, rec := range m.records {
		if docKey(rec.Subject, rec.Sender, rec.ReceivedAt) == key {
			return copyRecord(rec), nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
}

func (m *mockDataSource) UpdateRecordStatus(ctx context.Context, id string, status model.RecordStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	rec.Status = status
	return nil
}

func (m *mockDataSource) MarkRecordProcessed(ctx context.Context, id string, caseID string, rawExtraction []byte) error {
	if m.markProcessedErr != nil {
		return m.markProcessedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	rec.Status = model.RecordStatusProcessed
	rec.CaseID = caseID
	rec.RawExtraction = rawExtraction
	rec.PayloadSnapshot = nil
	rec.ErrorMessage = ""
	rec.ProcessedAt = time.Now().UTC()
	return nil
}

func (m *mockDataSource) MarkRecordFailed(ctx context.Context, id string, errMsg string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	rec.Status = model.RecordStatusFailed
	rec.ErrorMessage = errMsg
	rec.PayloadSnapshot = snapshot
	return nil
}

func (m *mockDataSource) GetFailedRecords(ctx context.Context) ([]*model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.IngestionRecord
	for _, rec := range m.records {
		if rec.Status == model.RecordStatusFailed {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (m *mockDataSource) GetAllRecords(ctx context.Context, limit, offset int) ([]*model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.IngestionRecord
	for _, rec := range m.records {
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

func (m *mockDataSource) GetRecordsByCase(ctx context.Context, caseID string) ([]*model.IngestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.IngestionRecord
	for _, rec := range m.records {
		if rec.CaseID == caseID {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (m *mockDataSource) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.caseNumbers[c.CaseNumber]; exists {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Case with this number already exists", nil)
	}
	cp := copyCase(c)
	cp.CaseID = m.nextID("case")
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.cases[cp.CaseID] = cp
	m.caseNumbers[cp.CaseNumber] = cp.CaseID
	return copyCase(cp), nil
}

func (m *mockDataSource) GetCase(ctx context.Context, id string) (*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Case not found", nil)
	}
	return copyCase(c), nil
}

func (m *mockDataSource) GetCaseByNumber(ctx context.Context, caseNumber string) (*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.caseNumbers[caseNumber]
	if !ok {
		if stale, ok := m.staleCases[caseNumber]; ok {
			return copyCase(stale), nil
		}
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Case not found", nil)
	}
	return copyCase(m.cases[id]), nil
}

// GetCaseForUpdate reads the live row only; stale read-cache copies are not
// visible under the lock.
func (m *mockDataSource) GetCaseForUpdate(ctx context.Context, tx *sql.Tx, caseNumber string) (*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.caseNumbers[caseNumber]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Case not found", nil)
	}
	return copyCase(m.cases[id]), nil
}

func (m *mockDataSource) UpdateCase(ctx context.Context, tx *sql.Tx, c *model.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.CaseID]; !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Case not found", nil)
	}
	cp := copyCase(c)
	cp.UpdatedAt = time.Now().UTC()
	m.cases[c.CaseID] = cp
	return nil
}

func (m *mockDataSource) GetAllCases(ctx context.Context, status string, limit, offset int) ([]*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Case
	for _, c := range m.cases {
		if status == "" || string(c.Status) == status {
			out = append(out, copyCase(c))
		}
	}
	return out, nil
}

// BeginTx hands out a throwaway sqlmock-backed transaction. The merge path
// only needs Commit and Rollback to work; the row operations go through the
// in-memory maps above.
func (m *mockDataSource) BeginTx(ctx context.Context) (*sql.Tx, error) {
	db, smock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	smock.MatchExpectationsInOrder(false)
	smock.ExpectBegin()
	smock.ExpectCommit()
	smock.ExpectRollback()
	m.mu.Lock()
	m.txDBs = append(m.txDBs, db)
	m.mu.Unlock()
	return db.Begin()
}

func (m *mockDataSource) CreateAttachment(ctx context.Context, a *model.Attachment) (*model.Attachment, error) {
	if m.createAttachmentErr != nil {
		return nil, m.createAttachmentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := a.RecordID + "|" + a.Filename
	if existing, ok := m.attachments[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *a
	cp.AttachmentID = m.nextID("att")
	cp.CreatedAt = time.Now().UTC()
	m.attachments[key] = &cp
	out := cp
	return &out, nil
}

func (m *mockDataSource) GetAttachmentsByRecord(ctx context.Context, recordID string) ([]*model.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Attachment
	for _, a := range m.attachments {
		if a.RecordID == recordID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDataSource) GetAttachmentsByCase(ctx context.Context, caseID string) ([]*model.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Attachment
	for _, a := range m.attachments {
		if a.CaseID == caseID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// scriptedExtractor returns canned responses in order, sticking on the last
// one. Errors come first when failFirst is set.
type scriptedExtractor struct {
	mu         sync.Mutex
	extraction *model.CaseExtraction
	err        error
	failFirst  int
	calls      int
}

func (s *scriptedExtractor) Extract(ctx context.Context, document *model.SourceDocument) (*model.CaseExtraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFirst > 0 && s.calls <= s.failFirst {
		return nil, Retryable(fmt.Errorf("scripted extraction failure %d", s.calls))
	}
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.extraction
	return &cp, nil
}

func (s *scriptedExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// newTestIntake wires a full Intake against miniredis and the in-memory
// datasource. No external infrastructure needed.
func newTestIntake(t *testing.T) (*Intake, *mockDataSource, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		DataSource: config.DataSourceConfig{Dns: "postgres://postgres:@localhost:5432/intake?sslmode=disable"},
		Queue:      config.QueueConfig{JobTimeoutSec: 1},
	})
	cfg, err := config.Fetch()
	if err != nil {
		t.Fatalf("failed to fetch mock config: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ds := newMockDataSource()
	t.Cleanup(ds.close)
	i := &Intake{
		queue:      NewQueueWithClient(client, cfg),
		redis:      client,
		datasource: ds,
		extractor:  &scriptedExtractor{extraction: NewMockExtraction("NF-10001", 0.8)},
	}
	return i, ds, mr
}
