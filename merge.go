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
	"fmt"
	"strings"
	"time"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/intakehq/intake/internal/apierror"
	redlock "github.com/intakehq/intake/internal/lock"
	"github.com/intakehq/intake/model"
)

const (
	mergeLockTimeout = 30 * time.Second
	mergeLockWait    = 10 * time.Second

	followUpMarker = "follow-up required"

	// minorVarianceDistance is the edit distance at or under which two
	// conflicting values are logged as formatting variance rather than a
	// material conflict.
	minorVarianceDistance = 2
)

// mergeField pairs an extraction value with its slot on the case.
type mergeField struct {
	name   string
	newVal string
	slot   *string
}

func mergeFields(c *model.Case, ex *model.CaseExtraction) []mergeField {
	return []mergeField{
		{"patient_name", ex.PatientName, &c.PatientName},
		{"exam_type", ex.ExamType, &c.ExamType},
		{"exam_date", ex.ExamDate, &c.ExamDate},
		{"exam_time", ex.ExamTime, &c.ExamTime},
		{"exam_location", ex.ExamLocation, &c.ExamLocation},
		{"referring_party", ex.ReferringParty, &c.ReferringParty},
		{"referring_email", ex.ReferringEmail, &c.ReferringEmail},
		{"report_due_date", ex.ReportDueDate, &c.ReportDueDate},
	}
}

// MergeExtraction combines an extraction with the case owning its case
// number, creating the case when none exists. Concurrent merges against the
// same case number serialize on a Redis lock around a transaction that
// re-reads the row FOR UPDATE, so two workers can never lose an update.
//
// The merge is confidence-monotonic: a strictly higher confidence overwrites
// any field; lower or equal confidence only fills empty fields and records
// value conflicts as audit notes for manual review.
func (i *Intake) MergeExtraction(ctx context.Context, extraction *model.CaseExtraction) (*model.Case, error) {
	ctx, span := tracer.Start(ctx, "Merging Case Extraction")
	defer span.End()

	locker := redlock.NewLocker(i.redis, "intake:lock:case:"+extraction.CaseNumber, model.GenerateUUIDWithSuffix("lock"))
	if err := locker.WaitLock(ctx, mergeLockTimeout, mergeLockWait); err != nil {
		// Lock contention is transient by definition.
		return nil, Retryable(err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			// Expiry will release it; nothing else to do.
			_ = err
		}
	}()

	if _, err := i.datasource.GetCaseByNumber(ctx, extraction.CaseNumber); err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			return i.createCaseFromExtraction(ctx, extraction)
		}
		return nil, Retryable(err)
	}

	tx, err := i.datasource.BeginTx(ctx)
	if err != nil {
		return nil, Retryable(err)
	}

	c, err := i.datasource.GetCaseForUpdate(ctx, tx, extraction.CaseNumber)
	if err != nil {
		_ = tx.Rollback()
		// The pre-check may have served a cached row whose backing record is
		// gone; the locked re-read is authoritative.
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			return i.createCaseFromExtraction(ctx, extraction)
		}
		return nil, Retryable(err)
	}

	applyMerge(c, extraction)
	appendFollowUpNote(c)

	if err := i.datasource.UpdateCase(ctx, tx, c); err != nil {
		_ = tx.Rollback()
		return nil, Retryable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, Retryable(err)
	}
	return c, nil
}

// createCaseFromExtraction builds a fresh case directly from the extraction.
// No conflict is possible; only the follow-up scan applies.
func (i *Intake) createCaseFromExtraction(ctx context.Context, extraction *model.CaseExtraction) (*model.Case, error) {
	c := &model.Case{
		CaseNumber:     extraction.CaseNumber,
		PatientName:    extraction.PatientName,
		ExamType:       extraction.ExamType,
		ExamDate:       extraction.ExamDate,
		ExamTime:       extraction.ExamTime,
		ExamLocation:   extraction.ExamLocation,
		ReferringParty: extraction.ReferringParty,
		ReferringEmail: extraction.ReferringEmail,
		ReportDueDate:  extraction.ReportDueDate,
		Status:         model.CaseStatusPending,
		Confidence:     extraction.Confidence,
	}
	appendFollowUpNote(c)

	created, err := i.datasource.CreateCase(ctx, c)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			// Lost the creation race despite the lock (stale lock takeover);
			// a retry will take the merge path.
			return nil, Retryable(err)
		}
		return nil, err
	}
	return created, nil
}

// applyMerge mutates c per the confidence-monotonic rules.
func applyMerge(c *model.Case, ex *model.CaseExtraction) {
	if ex.Confidence > c.Confidence {
		oldConfidence := c.Confidence
		for _, f := range mergeFields(c, ex) {
			if f.newVal != "" {
				*f.slot = f.newVal
			}
		}
		c.Confidence = ex.Confidence
		c.AppendNote(fmt.Sprintf("auto-updated: higher confidence (%.2f -> %.2f)", oldConfidence, ex.Confidence))
		return
	}

	for _, f := range mergeFields(c, ex) {
		if f.newVal == "" {
			continue
		}
		if *f.slot == "" {
			*f.slot = f.newVal
			continue
		}
		if *f.slot == f.newVal {
			continue
		}
		c.AppendNote(conflictNote(f.name, *f.slot, f.newVal))
	}
}

// conflictNote formats a rejected lower-confidence value for manual review.
// Near-identical values are flagged as minor variance so reviewers can triage
// formatting noise apart from material disagreements.
func conflictNote(field, oldVal, newVal string) string {
	distance := levenshtein.DistanceForStrings(
		[]rune(strings.ToLower(oldVal)),
		[]rune(strings.ToLower(newVal)),
		levenshtein.DefaultOptions,
	)
	if distance <= minorVarianceDistance {
		return fmt.Sprintf("conflict (minor variance) %s: %s -> %s", field, oldVal, newVal)
	}
	return fmt.Sprintf("conflict %s: %s -> %s", field, oldVal, newVal)
}

// appendFollowUpNote appends a single deduplicated note when operationally
// critical fields are still missing after a merge. Exam time is a softer
// signal and is listed but never triggers the note alone.
func appendFollowUpNote(c *model.Case) {
	if strings.Contains(c.Notes, followUpMarker) {
		return
	}

	var missing []string
	if c.ExamDate == "" {
		missing = append(missing, "exam_date")
	}
	if c.ExamLocation == "" {
		missing = append(missing, "exam_location")
	}
	if c.ReportDueDate == "" {
		missing = append(missing, "report_due_date")
	}
	if len(missing) == 0 {
		return
	}
	if c.ExamTime == "" {
		missing = append(missing, "exam_time")
	}

	c.AppendNote(fmt.Sprintf("%s: missing %s; next action: contact referring party",
		followUpMarker, strings.Join(missing, ", ")))
}
