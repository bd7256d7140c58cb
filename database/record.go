package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/intakehq/intake/internal/apierror"
	"github.com/intakehq/intake/model"
)

const recordColumns = `record_id, case_id, subject, sender, recipients, body, received_at, status, raw_extraction, error_message, payload_snapshot, created_at, processed_at`

func (d Datasource) CreateRecord(ctx context.Context, rec *model.IngestionRecord) (*model.IngestionRecord, error) {
	if rec.RecordID == "" {
		rec.RecordID = model.GenerateUUIDWithSuffix("rec")
	}
	if rec.Status == "" {
		rec.Status = model.RecordStatusPending
	}
	rec.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.ingestion_records (record_id, case_id, subject, sender, recipients, body, received_at, status, payload_snapshot)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
	`, rec.RecordID, rec.CaseID, rec.Subject, rec.Sender, strings.Join(rec.Recipients, ","), rec.Body, rec.ReceivedAt, rec.Status, rec.PayloadSnapshot)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Ingestion record for this document already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create ingestion record", err)
	}

	return rec, nil
}

func (d Datasource) GetRecord(ctx context.Context, id string) (*model.IngestionRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM intake.ingestion_records
		WHERE record_id = $1
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Ingestion record not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ingestion record", err)
	}
	return rec, nil
}

func (d Datasource) GetRecordByDocument(ctx context.Context, subject, sender string, receivedAt time.Time) (*model.IngestionRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM intake.ingestion_records
		WHERE subject = $1 AND sender = $2 AND received_at = $3
	`, subject, sender, receivedAt)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Ingestion record not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ingestion record", err)
	}
	return rec, nil
}

func (d Datasource) UpdateRecordStatus(ctx context.Context, id string, status model.RecordStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE intake.ingestion_records
		SET status = $1
		WHERE record_id = $2
	`, status, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update record status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update record status", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Ingestion record not found", sql.ErrNoRows)
	}
	return nil
}

// MarkRecordProcessed finalizes a successful run. The payload snapshot is
// cleared; a processed record never needs a byte-identical replay.
func (d Datasource) MarkRecordProcessed(ctx context.Context, id string, caseID string, rawExtraction []byte) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE intake.ingestion_records
		SET status = $1, case_id = $2, raw_extraction = $3, error_message = NULL, payload_snapshot = NULL, processed_at = NOW()
		WHERE record_id = $4
	`, model.RecordStatusProcessed, caseID, rawExtraction, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark record processed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark record processed", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Ingestion record not found", sql.ErrNoRows)
	}
	return nil
}

// MarkRecordFailed records the failure reason and keeps the full payload
// snapshot so a manual retry replays exactly what first arrived.
func (d Datasource) MarkRecordFailed(ctx context.Context, id string, errMsg string, snapshot []byte) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE intake.ingestion_records
		SET status = $1, error_message = $2, payload_snapshot = $3
		WHERE record_id = $4
	`, model.RecordStatusFailed, errMsg, snapshot, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark record failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark record failed", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Ingestion record not found", sql.ErrNoRows)
	}
	return nil
}

func (d Datasource) GetFailedRecords(ctx context.Context) ([]*model.IngestionRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM intake.ingestion_records
		WHERE status = $1
		ORDER BY created_at ASC
	`, model.RecordStatusFailed)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve failed records", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (d Datasource) GetAllRecords(ctx context.Context, limit, offset int) ([]*model.IngestionRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM intake.ingestion_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve records", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (d Datasource) GetRecordsByCase(ctx context.Context, caseID string) ([]*model.IngestionRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM intake.ingestion_records
		WHERE case_id = $1
		ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve case records", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.IngestionRecord, error) {
	rec := model.IngestionRecord{}
	var caseID, recipients, errMsg sql.NullString
	var receivedAt, processedAt sql.NullTime
	var rawExtraction []byte

	err := row.Scan(&rec.RecordID, &caseID, &rec.Subject, &rec.Sender, &recipients, &rec.Body,
		&receivedAt, &rec.Status, &rawExtraction, &errMsg, &rec.PayloadSnapshot, &rec.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}

	rec.CaseID = caseID.String
	rec.ErrorMessage = errMsg.String
	if recipients.String != "" {
		rec.Recipients = strings.Split(recipients.String, ",")
	}
	if receivedAt.Valid {
		rec.ReceivedAt = receivedAt.Time
	}
	if processedAt.Valid {
		rec.ProcessedAt = processedAt.Time
	}
	rec.RawExtraction = rawExtraction

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*model.IngestionRecord, error) {
	records := []*model.IngestionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan record data", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over records", err)
	}
	return records, nil
}
