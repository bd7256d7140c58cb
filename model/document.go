package model

import (
	"encoding/json"
	"errors"
	"time"
)

// DocumentAttachment is a single attachment carried by a source document.
// BinaryContent is base64 in transit (encoding/json handles []byte that way)
// and is only populated when the upstream parser kept the original bytes.
type DocumentAttachment struct {
	Filename       string   `json:"filename"`
	ContentType    string   `json:"content_type,omitempty"`
	TextContent    string   `json:"text_content,omitempty"`
	BinaryContent  []byte   `json:"binary_content,omitempty"`
	RenderedImages []string `json:"rendered_images,omitempty"`
}

// SourceDocument is the inbound unit of work, an email-equivalent. It is
// immutable once received; the ingestion pipeline never mutates it.
type SourceDocument struct {
	Subject     string               `json:"subject"`
	Sender      string               `json:"sender"`
	Recipients  []string             `json:"recipients"`
	Body        string               `json:"body"`
	Attachments []DocumentAttachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time            `json:"received_at"`
}

// IdentityKey returns the deterministic identity of the document.
func (d *SourceDocument) IdentityKey() string {
	return IdentityKey(d.Sender, d.Subject, d.ReceivedAt)
}

// Validate checks the fields a document must carry before it can be queued.
// A document failing validation is a permanent error, never retried.
func (d *SourceDocument) Validate() error {
	if d.Subject == "" {
		return errors.New("document subject is required")
	}
	if d.Sender == "" {
		return errors.New("document sender is required")
	}
	if d.Body == "" {
		return errors.New("document body is required")
	}
	if d.ReceivedAt.IsZero() {
		return errors.New("document received_at is required")
	}
	for _, att := range d.Attachments {
		if att.Filename == "" {
			return errors.New("attachment filename is required")
		}
	}
	return nil
}

// ToJSON serializes the document for queue transport and failure snapshots.
func (d *SourceDocument) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}
