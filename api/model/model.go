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
package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/intakehq/intake/model"
)

// IngestAttachment is one attachment on an inbound ingestion request.
// BinaryContent is base64 on the wire.
type IngestAttachment struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	TextContent   string `json:"text_content"`
	BinaryContent []byte `json:"binary_content"`
}

// IngestDocument is the request body for both the synchronous and the
// asynchronous ingestion endpoints. Queue is only honored on the async path.
type IngestDocument struct {
	Subject     string             `json:"subject"`
	Sender      string             `json:"sender"`
	Recipients  []string           `json:"recipients"`
	Body        string             `json:"body"`
	Attachments []IngestAttachment `json:"attachments"`
	ReceivedAt  string             `json:"received_at"`
	Queue       string             `json:"queue"`
}

func (d *IngestDocument) ValidateIngestDocument() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Subject, validation.Required),
		validation.Field(&d.Sender, validation.Required, is.EmailFormat),
		validation.Field(&d.Body, validation.Required),
		validation.Field(&d.ReceivedAt, validation.Required, validation.By(func(value interface{}) error {
			dateStr, ok := value.(string)
			if !ok {
				return errors.New("invalid type for received date")
			}
			return validateDateFormat(time.RFC3339, dateStr)
		})),
	)
}

func validateDateFormat(format, value string) error {
	_, err := time.Parse(format, value)
	if err != nil {
		return errors.New("please format the received date as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2025-04-22T15:28:03+00:00)")
	}
	return nil
}

// ToSourceDocument converts the request into the core document type. Call
// ValidateIngestDocument first; the date parse error is swallowed here.
func (d *IngestDocument) ToSourceDocument() model.SourceDocument {
	receivedAt, _ := time.Parse(time.RFC3339, d.ReceivedAt)

	attachments := make([]model.DocumentAttachment, 0, len(d.Attachments))
	for _, att := range d.Attachments {
		attachments = append(attachments, model.DocumentAttachment{
			Filename:      att.Filename,
			ContentType:   att.ContentType,
			TextContent:   att.TextContent,
			BinaryContent: att.BinaryContent,
		})
	}

	return model.SourceDocument{
		Subject:     d.Subject,
		Sender:      d.Sender,
		Recipients:  d.Recipients,
		Body:        d.Body,
		Attachments: attachments,
		ReceivedAt:  receivedAt,
	}
}
