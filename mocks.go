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
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/intakehq/intake/model"
)

// NewMockDocument builds a plausible referral email for tests and local
// development.
func NewMockDocument() model.SourceDocument {
	patient := gofakeit.Name()
	return model.SourceDocument{
		Subject:    fmt.Sprintf("IME Referral - %s", patient),
		Sender:     gofakeit.Email(),
		Recipients: []string{"intake@imegroup.test"},
		Body: fmt.Sprintf("Please schedule an independent medical examination for %s. Case number NF-%d.",
			patient, gofakeit.Number(10000, 99999)),
		Attachments: []model.DocumentAttachment{
			{
				Filename:    "medical_records.pdf",
				ContentType: "application/pdf",
				TextContent: gofakeit.Paragraph(2, 4, 12, " "),
			},
		},
		ReceivedAt: time.Now().UTC(),
	}
}

// NewMockExtraction builds an extraction result for the given case number and
// confidence.
func NewMockExtraction(caseNumber string, confidence float64) *model.CaseExtraction {
	return &model.CaseExtraction{
		PatientName:    gofakeit.Name(),
		CaseNumber:     caseNumber,
		ExamType:       "Orthopedic IME",
		ExamDate:       time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
		ExamTime:       "09:30",
		ExamLocation:   gofakeit.City(),
		ReferringParty: gofakeit.Company(),
		ReferringEmail: gofakeit.Email(),
		ReportDueDate:  time.Now().AddDate(0, 2, 0).Format("2006-01-02"),
		Confidence:     confidence,
		EmailIntent:    "new_referral",
		Attachments: []model.AttachmentExtraction{
			{Filename: "medical_records.pdf", Category: string(model.CategoryMedicalRecords), CategoryReason: "imaging and treatment history"},
		},
	}
}
