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
	"encoding/json"
	"math/rand"
	"net/http"

	"github.com/pkg/errors"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/internal/request"
	"github.com/intakehq/intake/model"
)

// Extractor turns a source document into a structured case extraction. The
// inference service behind it is slow, rate-limited and intermittently
// failing; every error from Extract is retryable by contract and must reach
// the worker loop unmodified so queue-level backoff applies.
type Extractor interface {
	Extract(ctx context.Context, document *model.SourceDocument) (*model.CaseExtraction, error)
}

// extractionRequest is the wire payload sent to the inference service. Binary
// attachment content is never sent; the service works from text and rendered
// page images.
type extractionRequest struct {
	Subject     string                 `json:"subject"`
	Sender      string                 `json:"sender"`
	Body        string                 `json:"body"`
	Attachments []extractionAttachment `json:"attachments,omitempty"`
}

type extractionAttachment struct {
	Filename       string   `json:"filename"`
	ContentType    string   `json:"content_type,omitempty"`
	TextContent    string   `json:"text_content,omitempty"`
	RenderedImages []string `json:"rendered_images,omitempty"`
}

// HTTPExtractor calls the inference service over HTTP with the configured
// timeout. Timeouts surface as retryable errors like every other call error.
type HTTPExtractor struct {
	url              string
	apiKey           string
	client           *http.Client
	simulateFailures bool
	failureRate      float64
}

// NewHTTPExtractor builds the extraction client from configuration.
func NewHTTPExtractor(conf *config.Configuration) *HTTPExtractor {
	return &HTTPExtractor{
		url:              conf.Extraction.Url,
		apiKey:           conf.Extraction.ApiKey,
		client:           &http.Client{Timeout: conf.Extraction.TimeoutDuration()},
		simulateFailures: conf.Extraction.SimulateFailures,
		failureRate:      conf.Extraction.FailureRate,
	}
}

// Extract calls the inference service. The failure-simulation knob injects
// retryable errors ahead of the real call so the retry path can be exercised
// without a flaky upstream.
func (e *HTTPExtractor) Extract(ctx context.Context, document *model.SourceDocument) (*model.CaseExtraction, error) {
	ctx, span := tracer.Start(ctx, "Calling Extraction Service")
	defer span.End()

	if e.simulateFailures && rand.Float64() < e.failureRate {
		return nil, Retryable(errors.New("simulated extraction failure"))
	}

	payload := extractionRequest{
		Subject: document.Subject,
		Sender:  document.Sender,
		Body:    document.Body,
	}
	for _, att := range document.Attachments {
		payload.Attachments = append(payload.Attachments, extractionAttachment{
			Filename:       att.Filename,
			ContentType:    att.ContentType,
			TextContent:    att.TextContent,
			RenderedImages: att.RenderedImages,
		})
	}

	body, err := request.ToJSONBody(&payload)
	if err != nil {
		return nil, Retryable(errors.Wrap(err, "failed to encode extraction request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return nil, Retryable(errors.Wrap(err, "failed to build extraction request"))
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, Retryable(errors.Wrap(err, "extraction call failed"))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, Retryable(errors.Errorf("extraction service returned status %d", resp.StatusCode))
	}

	var extraction model.CaseExtraction
	if err := json.NewDecoder(resp.Body).Decode(&extraction); err != nil {
		return nil, Retryable(errors.Wrap(err, "failed to decode extraction response"))
	}

	return &extraction, nil
}
