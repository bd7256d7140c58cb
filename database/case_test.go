package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

func caseRows(caseID, caseNumber string, confidence float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"case_id", "case_number", "patient_name", "exam_type", "exam_date", "exam_time",
		"exam_location", "referring_party", "referring_email", "report_due_date",
		"status", "confidence", "notes", "created_at", "updated_at",
	}).AddRow(caseID, caseNumber, "John Doe", "Orthopedic IME", "2026-09-14", "09:30",
		"Oakland", "Smith & Partners", "referrals@examplefirm.com", "2026-10-01",
		model.CaseStatusPending, confidence, "", time.Now(), time.Now())
}

func TestCreateCase_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	c := &model.Case{
		CaseNumber:  "NF-39281",
		PatientName: "John Doe",
		ExamType:    "Orthopedic IME",
		Confidence:  0.92,
	}

	mock.ExpectExec("INSERT INTO intake.cases").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateCase(context.Background(), c)
	assert.NoError(t, err)
	assert.NotEmpty(t, created.CaseID)
	assert.Equal(t, model.CaseStatusPending, created.Status)
}

func TestCreateCase_DuplicateNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO intake.cases").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	_, err = ds.CreateCase(context.Background(), &model.Case{CaseNumber: "NF-39281"})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestGetCaseByNumber_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM intake.cases WHERE case_number = ?").
		WithArgs("NF-39281").
		WillReturnRows(caseRows("case_1", "NF-39281", 0.92))

	c, err := ds.GetCaseByNumber(context.Background(), "NF-39281")
	assert.NoError(t, err)
	assert.Equal(t, "case_1", c.CaseID)
	assert.Equal(t, 0.92, c.Confidence)
}

type stubCache struct {
	cases   map[string]model.Case
	deleted []string
}

func (s *stubCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if c, ok := value.(*model.Case); ok {
		s.cases[key] = *c
	}
	return nil
}

func (s *stubCache) Get(_ context.Context, key string, data interface{}) error {
	if c, ok := s.cases[key]; ok {
		*(data.(*model.Case)) = c
	}
	return nil
}

func (s *stubCache) Delete(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.cases, key)
	return nil
}

// A cached case never reaches the database; sqlmock is given no query to
// serve, so a fallthrough would fail the test.
func TestGetCaseByNumber_CachedHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	sc := &stubCache{cases: map[string]model.Case{
		"case:number:NF-39281": {CaseID: "case_1", CaseNumber: "NF-39281", Confidence: 0.92},
	}}
	ds := Datasource{Conn: db, Cache: sc}

	c, err := ds.GetCaseByNumber(context.Background(), "NF-39281")
	assert.NoError(t, err)
	assert.Equal(t, "case_1", c.CaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCase_InvalidatesCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	sc := &stubCache{cases: map[string]model.Case{
		"case:number:NF-39281": {CaseID: "case_1", CaseNumber: "NF-39281"},
	}}
	ds := Datasource{Conn: db, Cache: sc}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE intake.cases SET patient_name").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := ds.BeginTx(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, ds.UpdateCase(context.Background(), tx, &model.Case{CaseID: "case_1", CaseNumber: "NF-39281"}))
	assert.NoError(t, tx.Commit())
	assert.Equal(t, []string{"case:number:NF-39281"}, sc.deleted)
}

func TestGetCaseByNumber_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM intake.cases WHERE case_number = ?").
		WithArgs("NF-00000").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetCaseByNumber(context.Background(), "NF-00000")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetCaseForUpdate_LocksInsideTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM intake.cases WHERE case_number = .* FOR UPDATE").
		WithArgs("NF-39281").
		WillReturnRows(caseRows("case_1", "NF-39281", 0.6))
	mock.ExpectCommit()

	tx, err := ds.BeginTx(context.Background())
	assert.NoError(t, err)

	c, err := ds.GetCaseForUpdate(context.Background(), tx, "NF-39281")
	assert.NoError(t, err)
	assert.Equal(t, "case_1", c.CaseID)

	assert.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCase_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE intake.cases SET patient_name").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := ds.BeginTx(context.Background())
	assert.NoError(t, err)

	c := &model.Case{CaseID: "case_1", CaseNumber: "NF-39281", PatientName: "John Doe", Confidence: 0.95}
	assert.NoError(t, ds.UpdateCase(context.Background(), tx, c))
	assert.NoError(t, tx.Commit())
}

func TestUpdateCase_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE intake.cases SET patient_name").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := ds.BeginTx(context.Background())
	assert.NoError(t, err)

	err = ds.UpdateCase(context.Background(), tx, &model.Case{CaseID: "case_missing"})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetAllCases_FilterByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT .* FROM intake.cases").
		WithArgs("pending", 20, 0).
		WillReturnRows(caseRows("case_1", "NF-39281", 0.92))

	cases, err := ds.GetAllCases(context.Background(), "pending", 20, 0)
	assert.NoError(t, err)
	assert.Len(t, cases, 1)
	assert.Equal(t, "NF-39281", cases[0].CaseNumber)
}
