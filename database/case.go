package database

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

const caseColumns = `case_id, case_number, patient_name, exam_type, exam_date, exam_time, exam_location, referring_party, referring_email, report_due_date, status, confidence, notes, created_at, updated_at`

func (d Datasource) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	return tx, nil
}

func (d Datasource) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	if c.CaseID == "" {
		c.CaseID = model.GenerateUUIDWithSuffix("case")
	}
	if c.Status == "" {
		c.Status = model.CaseStatusPending
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.cases (case_id, case_number, patient_name, exam_type, exam_date, exam_time, exam_location, referring_party, referring_email, report_due_date, status, confidence, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.CaseID, c.CaseNumber, c.PatientName, c.ExamType, c.ExamDate, c.ExamTime, c.ExamLocation,
		c.ReferringParty, c.ReferringEmail, c.ReportDueDate, c.Status, c.Confidence, c.Notes)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Case with this number already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create case", err)
	}

	return c, nil
}

func (d Datasource) GetCase(ctx context.Context, id string) (*model.Case, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM intake.cases
		WHERE case_id = $1
	`, id)

	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Case not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve case", err)
	}
	return c, nil
}

func (d Datasource) GetCaseByNumber(ctx context.Context, caseNumber string) (*model.Case, error) {
	cacheKey := "case:number:" + caseNumber
	if d.Cache != nil {
		var cached model.Case
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && cached.CaseID != "" {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM intake.cases
		WHERE case_number = $1
	`, caseNumber)

	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Case not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve case", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, c, 5*time.Minute); err != nil {
			log.Printf("Failed to cache case %s: %v", caseNumber, err)
		}
	}
	return c, nil
}

// GetCaseForUpdate row-locks the case for the duration of tx. Concurrent
// merges against the same case number serialize here.
func (d Datasource) GetCaseForUpdate(ctx context.Context, tx *sql.Tx, caseNumber string) (*model.Case, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM intake.cases
		WHERE case_number = $1
		FOR UPDATE
	`, caseNumber)

	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Case not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock case", err)
	}
	return c, nil
}

func (d Datasource) UpdateCase(ctx context.Context, tx *sql.Tx, c *model.Case) error {
	c.UpdatedAt = time.Now()

	result, err := tx.ExecContext(ctx, `
		UPDATE intake.cases
		SET patient_name = $1, exam_type = $2, exam_date = $3, exam_time = $4, exam_location = $5,
			referring_party = $6, referring_email = $7, report_due_date = $8, status = $9,
			confidence = $10, notes = $11, updated_at = NOW()
		WHERE case_id = $12
	`, c.PatientName, c.ExamType, c.ExamDate, c.ExamTime, c.ExamLocation,
		c.ReferringParty, c.ReferringEmail, c.ReportDueDate, c.Status,
		c.Confidence, c.Notes, c.CaseID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update case", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update case", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Case not found", sql.ErrNoRows)
	}

	// Merges re-read under FOR UPDATE, so a stale cached row only affects
	// read endpoints; drop it anyway.
	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, "case:number:"+c.CaseNumber); err != nil {
			log.Printf("Failed to invalidate cached case %s: %v", c.CaseNumber, err)
		}
	}
	return nil
}

func (d Datasource) GetAllCases(ctx context.Context, status string, limit, offset int) ([]*model.Case, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM intake.cases
		WHERE ($1 = '' OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve cases", err)
	}
	defer rows.Close()

	cases := []*model.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan case data", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over cases", err)
	}
	return cases, nil
}

func scanCase(row rowScanner) (*model.Case, error) {
	c := model.Case{}
	var examDate, examTime, examLocation, referringParty, referringEmail, reportDueDate, notes sql.NullString

	err := row.Scan(&c.CaseID, &c.CaseNumber, &c.PatientName, &c.ExamType, &examDate, &examTime,
		&examLocation, &referringParty, &referringEmail, &reportDueDate, &c.Status, &c.Confidence,
		&notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.ExamDate = examDate.String
	c.ExamTime = examTime.String
	c.ExamLocation = examLocation.String
	c.ReferringParty = referringParty.String
	c.ReferringEmail = referringEmail.String
	c.ReportDueDate = reportDueDate.String
	c.Notes = notes.String

	return &c, nil
}
