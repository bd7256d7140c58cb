package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityKeyDeterministic(t *testing.T) {
	receivedAt := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	k1 := IdentityKey("referrals@smithlaw.com", "New Referral NF-39281", receivedAt)
	k2 := IdentityKey("referrals@smithlaw.com", "New Referral NF-39281", receivedAt)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestIdentityKeyNormalization(t *testing.T) {
	receivedAt := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	upper := IdentityKey("Referrals@SmithLaw.com", "New Referral", receivedAt)
	lower := IdentityKey("referrals@smithlaw.com", "New Referral", receivedAt)
	padded := IdentityKey("  referrals@smithlaw.com ", "  New Referral  ", receivedAt)

	assert.Equal(t, lower, upper)
	assert.Equal(t, lower, padded)
}

func TestIdentityKeySecondGranularity(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	withNanos := IdentityKey("a@b.com", "subject", base.Add(450*time.Millisecond))
	exact := IdentityKey("a@b.com", "subject", base)
	nextSecond := IdentityKey("a@b.com", "subject", base.Add(time.Second))

	assert.Equal(t, exact, withNanos)
	assert.NotEqual(t, exact, nextSecond)
}

func TestIdentityKeyDistinguishesFields(t *testing.T) {
	receivedAt := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	assert.NotEqual(t,
		IdentityKey("a@b.com", "subject one", receivedAt),
		IdentityKey("a@b.com", "subject two", receivedAt),
	)
	assert.NotEqual(t,
		IdentityKey("a@b.com", "subject", receivedAt),
		IdentityKey("c@d.com", "subject", receivedAt),
	)
}

func TestWorkItemNextDelay(t *testing.T) {
	item := NewWorkItem(SourceDocument{}, "default")

	item.AttemptCount = 1
	assert.Equal(t, 1*time.Second, item.NextDelay())

	item.AttemptCount = 3
	assert.Equal(t, 4*time.Second, item.NextDelay())

	item.AttemptCount = 5
	assert.Equal(t, 16*time.Second, item.NextDelay())

	// Past the configured sequence the last delay is reused.
	item.AttemptCount = 9
	assert.Equal(t, 16*time.Second, item.NextDelay())
}

func TestWorkItemAttemptsExhausted(t *testing.T) {
	item := NewWorkItem(SourceDocument{}, "default")
	assert.False(t, item.AttemptsExhausted())

	item.AttemptCount = DefaultMaxAttempts
	assert.True(t, item.AttemptsExhausted())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, StatusFinished.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusReady.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusDeferred.Terminal())
}

func TestWorkItemJSONRoundTrip(t *testing.T) {
	doc := SourceDocument{
		Subject:    "IME Referral",
		Sender:     "referrals@smithlaw.com",
		Recipients: []string{"intake@clinic.com"},
		Body:       "Please schedule an orthopedic exam.",
		ReceivedAt: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		Attachments: []DocumentAttachment{
			{Filename: "records.pdf", ContentType: "application/pdf", BinaryContent: []byte{0x25, 0x50, 0x44, 0x46}},
		},
	}
	item := NewWorkItem(doc, "high")

	data, err := item.ToJSON()
	assert.NoError(t, err)

	got, err := WorkItemFromJSON(data)
	assert.NoError(t, err)
	assert.Equal(t, item.JobID, got.JobID)
	assert.Equal(t, item.IdentityKey, got.IdentityKey)
	assert.Equal(t, doc.Attachments[0].BinaryContent, got.Payload.Attachments[0].BinaryContent)
}

func TestSourceDocumentValidate(t *testing.T) {
	doc := SourceDocument{
		Subject:    "IME Referral",
		Sender:     "referrals@smithlaw.com",
		Body:       "body",
		ReceivedAt: time.Now(),
	}
	assert.NoError(t, doc.Validate())

	missingSubject := doc
	missingSubject.Subject = ""
	assert.Error(t, missingSubject.Validate())

	badAttachment := doc
	badAttachment.Attachments = []DocumentAttachment{{Filename: ""}}
	assert.Error(t, badAttachment.Validate())
}

func TestCaseExtractionValidate(t *testing.T) {
	extraction := CaseExtraction{
		PatientName: "John Doe",
		CaseNumber:  "NF-39281",
		ExamType:    "Orthopedic",
		Confidence:  0.95,
	}
	assert.NoError(t, extraction.Validate())

	extraction.Confidence = 1.2
	assert.Error(t, extraction.Validate())

	extraction.Confidence = 0.8
	extraction.CaseNumber = ""
	assert.Error(t, extraction.Validate())
}

func TestParseAttachmentCategory(t *testing.T) {
	assert.Equal(t, CategoryMedicalRecords, ParseAttachmentCategory("medical_records"))
	assert.Equal(t, CategoryOther, ParseAttachmentCategory("invoice"))
}
