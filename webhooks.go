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
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/internal/request"
	"github.com/intakehq/intake/model"
)

const webhookPollTimeout = 1 * time.Second

// WebhookEvent notifies an external consumer that a record reached a terminal
// processing state.
type WebhookEvent struct {
	Event     string    `json:"event"`
	RecordID  string    `json:"record_id"`
	CaseID    string    `json:"case_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// notifyRecordEvent queues a webhook event for the record. Best-effort: a
// queue hiccup is logged and never fails the pipeline.
func (i *Intake) notifyRecordEvent(ctx context.Context, event string, rec *model.IngestionRecord, errMsg string) {
	cfg, err := config.Fetch()
	if err != nil || cfg.Notification.Webhook.Url == "" {
		return
	}

	payload, err := json.Marshal(WebhookEvent{
		Event:     event,
		RecordID:  rec.RecordID,
		CaseID:    rec.CaseID,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logrus.Errorf("failed to encode webhook event: %v", err)
		return
	}
	if err := i.queue.EnqueueWebhook(ctx, payload); err != nil {
		logrus.Errorf("failed to enqueue webhook event: %v", err)
	}
}

// ProcessWebhookEvents drains the webhook queue until ctx is done, posting
// each event to the configured consumer. Delivery failures are logged and the
// event dropped; webhook consumers are expected to reconcile via the read
// APIs.
func (i *Intake) ProcessWebhookEvents(ctx context.Context) error {
	log.Println(" [*] Webhook worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := i.queue.DequeueWebhook(ctx, webhookPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.Errorf("webhook dequeue failed: %v", err)
			time.Sleep(webhookPollTimeout)
			continue
		}
		if payload == nil {
			continue
		}
		if err := i.deliverWebhook(ctx, payload); err != nil {
			logrus.Errorf("webhook delivery failed: %v", err)
		}
	}
}

func (i *Intake) deliverWebhook(ctx context.Context, payload []byte) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	if cfg.Notification.Webhook.Url == "" {
		return nil
	}

	var response map[string]interface{}
	_, err = request.PostJSON(ctx, nil, cfg.Notification.Webhook.Url, cfg.Notification.Webhook.Headers,
		json.RawMessage(payload), &response)
	return err
}
